package table

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// TokenPayload addresses the first row of the next page.
type TokenPayload struct {
	NextPartitionKey string `json:"next_partition_key"` // partition of the next match
	NextRowKey       string `json:"next_row_key"`       // row of the next match
}

func EncodeToken(payload TokenPayload) string {
	b, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(b)
}

func DecodeToken(token string) (*TokenPayload, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: decode token: %v", ErrInvalidQuery, err)
	}
	var tp TokenPayload
	if err := json.Unmarshal(data, &tp); err != nil {
		return nil, fmt.Errorf("%w: decode token JSON: %v", ErrInvalidQuery, err)
	}
	return &tp, nil
}
