package model

import "errors"

// 配置类错误：同步拒绝，不做静默修正。
var (
	ErrInvalidChunkParams   = errors.New("invalid chunk parameters")
	ErrDimensionMismatch    = errors.New("embedding dimension mismatch")
	ErrPromptBudgetExceeded = errors.New("question exceeds prompt budget")
)

// 引用或输入错误：对应 4xx。
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyDocument   = errors.New("document text is empty")
	ErrInvalidArgument = errors.New("invalid argument")
)

// 上游依赖错误。
var (
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
	ErrGenerationFailed     = errors.New("answer generation failed")
)

// ErrNotConfigured 表示请求的功能依赖的外部服务未配置。
var ErrNotConfigured = errors.New("feature not configured")
