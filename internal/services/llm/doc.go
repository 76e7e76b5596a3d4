// Package llm provides the structured extraction client used by the pipeline
// to talk to vision-capable LLM providers.
//
// # Providers
//
// A Provider sends one prompt plus page images and returns the raw reply
// text. Four implementations exist and one is selected at construction time
// from configuration:
//
//   - gemini: Google Generative Language REST API (generateContent)
//   - ollama: local Ollama /api/chat with base64 images and a JSON schema format
//   - openai: OpenAI chat completions via go-openai, images as data URLs
//   - openrouter: OpenAI-compatible chat completions over plain HTTP
//
// # Structured Decoding
//
// When a Request carries a Schema, the reply goes through DecodeStructured:
// direct parse, fenced-block extraction and object slicing, envelope
// normalization (a bare object is wrapped into the schema's list envelope),
// and finally JSON Schema validation. Provider failures and decode failures
// are both returned as errors; callers do not distinguish them when retrying.
//
// # Retry Behaviour
//
// The client itself never retries. Retry wraps a call with a fixed-delay
// RetryPolicy (2 attempts, 2s by default) and returns an *ExhaustedError once
// every attempt failed. The sleeper is injectable for tests.
package llm
