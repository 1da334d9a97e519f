package routing

// Model maps one model name to its owning provider. Path, when non-empty,
// replaces the inbound path when forwarding; empty means the inbound path
// is preserved.
type Model struct {
	Name     string
	Path     string
	Provider string
}

// Built-in model lists. OpenAI models keep the inbound path (clients call
// the chat-completions path directly); Anthropic and Groq models rewrite
// to their native endpoints.
var (
	openAIModels = []string{
		"gpt-4-turbo", "gpt-4-turbo-2024-04-09", "gpt-4-0125-preview",
		"gpt-4-turbo-preview", "gpt-4-1106-preview", "gpt-4-vision-preview",
		"gpt-4-1106-vision-preview", "gpt-4", "gpt-4-0613", "gpt-4-32k",
		"gpt-4-32k-0613", "gpt-3.5-turbo-0125", "gpt-3.5-turbo",
		"gpt-3.5-turbo-1106", "gpt-3.5-turbo-16k", "gpt-3.5-turbo-0613",
		"gpt-3.5-turbo-16k-0613",
	}
	claudeModels = []string{
		"claude-3-opus-20240229", "claude-3-sonnet-20240229",
		"claude-3-haiku-20240307",
	}
	groqModels = []string{
		"llama3-8b-8192", "llama3-70b-8192", "mixtral-8x7b-32768",
		"gemma-7b-it",
	}
)

// builtinModels returns the initial model table.
func builtinModels() map[string]*Model {
	table := make(map[string]*Model)
	for _, name := range openAIModels {
		table[name] = &Model{Name: name, Provider: "openai"}
	}
	for _, name := range claudeModels {
		table[name] = &Model{Name: name, Path: "/v1/messages", Provider: "anthropic"}
	}
	for _, name := range groqModels {
		table[name] = &Model{Name: name, Path: "/openai/v1/chat/completions", Provider: "groq"}
	}
	return table
}
