package main

import (
	"crypto/rand"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
)

func generateRandomPassword(length int) string {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		log.Println("[W] Could not generate secure random password, using fallback.")
		return "fallback-password-thirus-change-me"
	}
	for i := 0; i < length; i++ {
		b[i] = chars[int(b[i])%len(chars)]
	}
	return string(b)
}

// formatWithCommas renders an integer with thousands separators for log and
// notification output.
func formatWithCommas(n int64) string {
	s := strconv.FormatInt(n, 10)
	negative := strings.HasPrefix(s, "-")
	if negative {
		s = s[1:]
	}
	if len(s) > 3 {
		var result []string
		for i := len(s); i > 0; i -= 3 {
			start := i - 3
			if start < 0 {
				start = 0
			}
			result = append([]string{s[start:i]}, result...)
		}
		s = strings.Join(result, ",")
	}
	if negative {
		return "-" + s
	}
	return s
}

// envOr returns the environment variable's value, or fallback when unset.
func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
