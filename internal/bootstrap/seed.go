package bootstrap

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"

	"github.com/google/uuid"
)

//go:embed templates/config.json templates/modeldoc.md
var templateFS embed.FS

// ReadTemplate returns the content of an embedded template file.
func ReadTemplate(name string) (string, error) {
	content, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// EnsureConfigFile writes the sample config to path if no file exists there.
// Returns true if the file was created, false if it already existed.
func EnsureConfigFile(path string) (bool, error) {
	content, err := ReadTemplate("config.json")
	if err != nil {
		return false, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if os.IsExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return false, err
	}
	return true, nil
}

// SeedOptions identifies the demo rows to provision.
type SeedOptions struct {
	Phone        string
	TenantID     uuid.UUID
	InstanceName string
	Endpoint     string
	ConnectionID string
	DatasetID    string
	DatasetName  string
}

// DefaultSeedOptions returns options for a local development setup.
func DefaultSeedOptions() SeedOptions {
	return SeedOptions{
		Phone:        "5511999990000",
		TenantID:     uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		InstanceName: "demo",
		Endpoint:     "http://localhost:8080",
		ConnectionID: "demo-conn",
		DatasetID:    "vendas",
		DatasetName:  "Vendas",
	}
}

// SeedDemo provisions a demo channel instance, an authorized contact bound to
// one dataset, and an active model doc. Existing rows are left untouched so
// re-running is safe. Returns a description of each row that was created.
func SeedDemo(ctx context.Context, db *sql.DB, opts SeedOptions) ([]string, error) {
	var created []string

	instanceID := uuid.New()
	res, err := db.ExecContext(ctx,
		`INSERT INTO channel_instances (id, name, endpoint, credential, connected)
		 VALUES ($1, $2, $3, '', FALSE)
		 ON CONFLICT (name) DO NOTHING`,
		instanceID, opts.InstanceName, opts.Endpoint)
	if err != nil {
		return created, fmt.Errorf("seed channel instance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if err := db.QueryRowContext(ctx,
			`SELECT id FROM channel_instances WHERE name = $1`,
			opts.InstanceName).Scan(&instanceID); err != nil {
			return created, fmt.Errorf("look up channel instance: %w", err)
		}
	} else {
		created = append(created, "channel instance "+opts.InstanceName)
	}

	contactID := uuid.New()
	res, err = db.ExecContext(ctx,
		`INSERT INTO authorized_contacts (id, phone, tenant_id, channel_instance_id, active)
		 VALUES ($1, $2, $3, $4, TRUE)
		 ON CONFLICT (phone, tenant_id, channel_instance_id) DO NOTHING`,
		contactID, opts.Phone, opts.TenantID, instanceID)
	if err != nil {
		return created, fmt.Errorf("seed contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if err := db.QueryRowContext(ctx,
			`SELECT id FROM authorized_contacts
			 WHERE phone = $1 AND tenant_id = $2 AND channel_instance_id = $3`,
			opts.Phone, opts.TenantID, instanceID).Scan(&contactID); err != nil {
			return created, fmt.Errorf("look up contact: %w", err)
		}
	} else {
		created = append(created, "contact "+opts.Phone)
	}

	res, err = db.ExecContext(ctx,
		`INSERT INTO dataset_bindings (contact_id, connection_id, dataset_id, dataset_name, position)
		 VALUES ($1, $2, $3, $4, 0)
		 ON CONFLICT (contact_id, connection_id, dataset_id) DO NOTHING`,
		contactID, opts.ConnectionID, opts.DatasetID, opts.DatasetName)
	if err != nil {
		return created, fmt.Errorf("seed dataset binding: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		created = append(created, "dataset binding "+opts.DatasetName)
	}

	var docs int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM model_docs WHERE connection_id = $1 AND active`,
		opts.ConnectionID).Scan(&docs); err != nil {
		return created, fmt.Errorf("count model docs: %w", err)
	}
	if docs == 0 {
		doc, err := ReadTemplate("modeldoc.md")
		if err != nil {
			return created, err
		}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO model_docs (id, connection_id, content, active)
			 VALUES ($1, $2, $3, TRUE)`,
			uuid.New(), opts.ConnectionID, doc); err != nil {
			return created, fmt.Errorf("seed model doc: %w", err)
		}
		created = append(created, "model doc for "+opts.ConnectionID)
	}

	return created, nil
}
