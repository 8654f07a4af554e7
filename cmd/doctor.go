package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"runtime"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/zapbi/zapbi/internal/analytics"
	"github.com/zapbi/zapbi/internal/channel"
	"github.com/zapbi/zapbi/internal/config"
	"github.com/zapbi/zapbi/internal/speech"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("zapbi doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Secrets:")
	checkSecret("ZAPBI_POSTGRES_DSN", cfg.Database.PostgresDSN)
	checkSecret("ZAPBI_LLM_API_KEY", cfg.LLM.APIKey)
	checkSecret("ZAPBI_SPEECH_API_KEY", cfg.Speech.APIKey)
	checkSecret("ZAPBI_ANALYTICS_PASSWORD", cfg.Analytics.Password)

	var db *sql.DB
	if cfg.Database.PostgresDSN != "" {
		fmt.Println()
		fmt.Println("  Database:")
		var err error
		db, err = sql.Open("pgx", cfg.Database.PostgresDSN)
		if err == nil {
			err = db.Ping()
		}
		if err != nil {
			fmt.Printf("    Status:   CONNECT FAILED (%s)\n", err)
			if db != nil {
				db.Close()
				db = nil
			}
		} else {
			fmt.Println("    Status:   OK")
			defer db.Close()
		}
	}

	if cfg.Analytics.BaseURL != "" && cfg.Analytics.Password != "" {
		fmt.Println()
		fmt.Println("  Analytics engine:")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		client := analytics.NewClient(cfg.Analytics.BaseURL, cfg.Analytics.Username, cfg.Analytics.Password)
		if err := client.CheckAuth(ctx); err != nil {
			fmt.Printf("    Status:   AUTH FAILED (%s)\n", err)
		} else {
			fmt.Println("    Status:   OK")
		}
	}

	if cfg.Speech.BaseURL != "" {
		fmt.Println()
		fmt.Println("  Speech service:")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stt := speech.NewHTTPTranscriber(cfg.Speech.BaseURL, cfg.Speech.APIKey, cfg.Speech.STTModel, cfg.Speech.Language)
		if err := stt.CheckReachable(ctx); err != nil {
			fmt.Printf("    Status:   UNREACHABLE (%s)\n", err)
		} else {
			fmt.Println("    Status:   OK")
		}
	}

	if db != nil {
		checkGateways(db)
	}
}

// checkGateways probes every configured channel instance endpoint.
func checkGateways(db *sql.DB) {
	rows, err := db.Query(`SELECT name, endpoint FROM channel_instances ORDER BY name`)
	if err != nil {
		fmt.Println()
		fmt.Printf("  Channel instances: QUERY FAILED (%s)\n", err)
		return
	}
	defer rows.Close()

	fmt.Println()
	fmt.Println("  Channel instances:")
	client := channel.NewClient()
	found := false
	for rows.Next() {
		var name, endpoint string
		if err := rows.Scan(&name, &endpoint); err != nil {
			fmt.Printf("    scan error: %s\n", err)
			return
		}
		found = true
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.CheckReachable(ctx, endpoint)
		cancel()
		if err != nil {
			fmt.Printf("    %-12s UNREACHABLE (%s)\n", name+":", err)
		} else {
			fmt.Printf("    %-12s OK\n", name+":")
		}
	}
	if !found {
		fmt.Println("    none configured")
	}
}

func checkSecret(name, value string) {
	if value == "" {
		fmt.Printf("    %-26s MISSING\n", name+":")
	} else {
		fmt.Printf("    %-26s set\n", name+":")
	}
}
