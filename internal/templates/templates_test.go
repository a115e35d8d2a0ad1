package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixwork_backend/internal/models"
)

func TestValidateRegistry(t *testing.T) {
	require.NoError(t, ValidateRegistry())
}

func TestRender(t *testing.T) {
	title, body, err := Render(KindJobAssigned, map[string]string{
		"hirerName": "Alice",
		"jobTitle":  "Fix the boiler",
	})
	require.NoError(t, err)
	assert.Equal(t, "You got the job!", title)
	assert.Contains(t, body, "Alice")
	assert.Contains(t, body, "Fix the boiler")
	assert.NotContains(t, body, "{")
}

func TestRenderMissingField(t *testing.T) {
	_, _, err := Render(KindJobAssigned, map[string]string{"hirerName": "Alice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jobTitle")
}

func TestRenderUnknownKind(t *testing.T) {
	_, _, err := Render("no_such_kind", nil)
	assert.Error(t, err)
}

func TestDescriptorClassification(t *testing.T) {
	d, err := Lookup(KindJobDisputed)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityCritical, d.Priority)
	assert.Equal(t, models.CategoryJob, d.Category)

	d, err = Lookup(KindSystemAnnouncement)
	require.NoError(t, err)
	assert.True(t, d.FreeText)
}
