// Package durable 驱动选择
package durable

import (
	"context"
	"fmt"
	"strings"
)

// Open 按连接串前缀选择驱动并建立连接
func Open(ctx context.Context, databaseURL string) (Store, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"),
		strings.HasPrefix(databaseURL, "postgresql://"):
		return openSQL("pgx", databaseURL)
	case strings.HasPrefix(databaseURL, "file:"),
		strings.HasPrefix(databaseURL, "sqlite:"):
		return openSQL("sqlite", strings.TrimPrefix(databaseURL, "sqlite:"))
	case strings.HasPrefix(databaseURL, "mongodb://"),
		strings.HasPrefix(databaseURL, "mongodb+srv://"):
		return openMongo(ctx, databaseURL)
	}
	return nil, fmt.Errorf("unsupported database URL: %s", databaseURL)
}
