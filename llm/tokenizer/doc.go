// Package tokenizer 提供 token 计数：tiktoken 精确计数与韩文/CJK 估算器，
// 用于合成提示词中的证据预算。
package tokenizer
