package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
)

var (
	// ModelNamePattern имя типа записи: строчные буквы, цифры, подчеркивание, 1-64 символа
	ModelNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

	// RecordIDPattern идентификатор записи (UUID или произвольный slug до 128 символов)
	RecordIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)
)

// MaxPayloadSize ограничение на размер сериализованной записи
const MaxPayloadSize = 1 << 20

// ValidateModelName проверяет имя типа записи
func ValidateModelName(name string) error {
	if name == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if !ModelNamePattern.MatchString(name) {
		return fmt.Errorf("invalid model name %q: must match %s", name, ModelNamePattern)
	}
	return nil
}

// ValidateRecordID проверяет идентификатор записи
func ValidateRecordID(id string) error {
	if id == "" {
		return fmt.Errorf("record id cannot be empty")
	}
	if !RecordIDPattern.MatchString(id) {
		return fmt.Errorf("invalid record id %q", id)
	}
	return nil
}

// ValidatePayload проверяет, что payload является JSON объектом допустимого размера
func ValidatePayload(payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("payload cannot be empty")
	}
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("payload exceeds %d bytes", MaxPayloadSize)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return fmt.Errorf("payload must be a JSON object: %w", err)
	}
	return nil
}
