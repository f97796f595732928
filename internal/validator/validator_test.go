package validator

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type answerMessage struct {
	Question int    `json:"q" binding:"required,gte=1"`
	Mode     string `json:"mode" binding:"required,oneof=full custom"`
}

func TestValidateUsesJSONNames(t *testing.T) {
	Setup()

	assert.Nil(t, Validate(&answerMessage{Question: 3, Mode: "full"}))

	fields := Validate(&answerMessage{Question: 0, Mode: "half"})
	assert.Contains(t, fields, "q")
	assert.Contains(t, fields, "mode")
	assert.Contains(t, fields["mode"], "full custom")
}

func TestTranslateErrorsFallsBackToDetail(t *testing.T) {
	Setup()
	fields := TranslateErrors(errors.New("unexpected EOF"))
	assert.Equal(t, map[string]string{"detail": "unexpected EOF"}, fields)
}

func TestTranslateErrorsNamesMistypedField(t *testing.T) {
	var msg answerMessage
	err := json.Unmarshal([]byte(`{"q":"seven","mode":"full"}`), &msg)
	fields := TranslateErrors(err)
	assert.Equal(t, "q must be a int", fields["q"])
}
