// Package openaicompat implements llm.Provider against OpenAI Chat Completions
// compatible endpoints.
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    BaseURL: "http://localhost:11434",
//	    Model:   "qwen2.5:7b-instruct",
//	}, logger)
//	text, err := p.Generate(ctx, prompt)
package openaicompat
