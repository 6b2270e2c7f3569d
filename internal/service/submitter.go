package service

import (
	"context"
	"unicode/utf8"
)

const maxUserAgentLen = 255

type submitterKey struct{}

// Submitter 提交方信息，随扫描结果留存
type Submitter struct {
	ClientIP  string
	UserAgent string
}

// WithSubmitter 在 ctx 中附加提交方信息
func WithSubmitter(ctx context.Context, sub Submitter) context.Context {
	return context.WithValue(ctx, submitterKey{}, sub)
}

// SubmitterFrom 读取提交方信息；队列与目录来源的扫描没有
func SubmitterFrom(ctx context.Context) (Submitter, bool) {
	sub, ok := ctx.Value(submitterKey{}).(Submitter)
	return sub, ok
}

func truncateUserAgent(ua string) string {
	if len(ua) <= maxUserAgentLen {
		return ua
	}
	cut := maxUserAgentLen
	for cut > 0 && !utf8.RuneStart(ua[cut]) {
		cut--
	}
	return ua[:cut]
}
