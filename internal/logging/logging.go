package logging

import (
	"log"
	"os"
	"strings"
)

var allowlistOrder = []string{
	"event",
	"method",
	"route",
	"address",
	"status",
	"duration_ms",
	"ip_hash",
	"user_hash",
	"posting_id",
	"item_id",
	"class",
	"job",
	"count",
	"error",
	"version",
}

var allowlistKeys = map[string]struct{}{
	"event":       {},
	"method":      {},
	"route":       {},
	"address":     {},
	"status":      {},
	"duration_ms": {},
	"ip_hash":     {},
	"user_hash":   {},
	"posting_id":  {},
	"item_id":     {},
	"class":       {},
	"job":         {},
	"count":       {},
	"error":       {},
	"version":     {},
}

func Allowlist(logger *log.Logger, fields map[string]string) {
	if logger == nil {
		return
	}
	var parts []string
	for _, key := range allowlistOrder {
		value, ok := fields[key]
		if !ok || value == "" {
			continue
		}
		if _, allowed := allowlistKeys[key]; !allowed {
			continue
		}
		parts = append(parts, key+"="+value)
	}
	if len(parts) == 0 {
		return
	}
	logger.Print(strings.Join(parts, " "))
}

func Fatal(logger *log.Logger, fields map[string]string) {
	Allowlist(logger, fields)
	os.Exit(1)
}
