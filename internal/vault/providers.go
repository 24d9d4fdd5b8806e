package vault

import "os"

// Provider yields secret values by logical name. The vault consults its
// providers in order after its own map; the first present value wins.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string
	// Lookup returns the value for a logical key, and whether it was found.
	Lookup(key string) (any, bool)
}

// envNameTable maps logical secret names to the environment variables that
// may carry them when the vault has no entry. The table is static: a
// caller-controlled secret name must not be able to read arbitrary env vars.
var envNameTable = map[string]string{
	"anthropic_api_key":  "ANTHROPIC_API_KEY",
	"openai_api_key":     "OPENAI_API_KEY",
	"gemini_api_key":     "GEMINI_API_KEY",
	"provider_api_key":   "PROVIDER_API_KEY",
	"telegram_bot_token": "TELEGRAM_BOT_TOKEN",
	"discord_bot_token":  "DISCORD_BOT_TOKEN",
	"brave_api_key":      "BRAVE_API_KEY",
	"elevenlabs_api_key": "ELEVENLABS_API_KEY",
	"gateway_token":      "CLAWGUARD_GATEWAY_TOKEN",
}

// envProvider resolves logical names through the static table above.
type envProvider struct{}

func (envProvider) Name() string { return "env" }

func (envProvider) Lookup(key string) (any, bool) {
	name, ok := envNameTable[key]
	if !ok {
		return nil, false
	}
	value, ok := os.LookupEnv(name)
	if !ok || value == "" {
		return nil, false
	}
	return value, true
}
