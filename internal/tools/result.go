package tools

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM  string `json:"for_llm"`  // content fed back into the transcript
	IsError bool   `json:"is_error"` // marks error results
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}
