package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	keyCharset       = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	defaultKeyLength = 32
	minKeyLength     = 16
)

var errKeyTooShort = errors.New("key length must be at least 16")

func generateAPIKey(length int) (string, error) {
	return generateAPIKeyFrom(rand.Reader, length)
}

// generateAPIKeyFrom draws characters from keyCharset with rejection sampling so each is equally likely.
func generateAPIKeyFrom(r io.Reader, length int) (string, error) {
	if length < minKeyLength {
		return "", errKeyTooShort
	}

	maxValid := byte((255 / len(keyCharset)) * len(keyCharset))
	key := make([]byte, length)
	buf := make([]byte, 1)

	for i := range key {
		for {
			if _, err := io.ReadFull(r, buf); err != nil {
				return "", fmt.Errorf("read random byte: %w", err)
			}

			if buf[0] < maxValid {
				key[i] = keyCharset[int(buf[0])%len(keyCharset)]

				break
			}
		}
	}

	return string(key), nil
}
