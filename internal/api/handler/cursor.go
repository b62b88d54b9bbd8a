package handler

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/spectragram/benchworker/internal/api/storage"
)

func DecodeRunCursor(cursorStr string) (*storage.RunCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	id, err := strconv.ParseInt(string(decoded), 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("invalid run cursor")
	}

	return &storage.RunCursor{JobRunID: id}, nil
}

func EncodeRunCursor(cursor *storage.RunCursor) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.FormatInt(cursor.JobRunID, 10)))
}
