package transfer

import (
	"testing"

	"github.com/maheshrc27/crosspost-scheduler/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateReportsJSONFieldName(t *testing.T) {
	err := Validate(&CreateItemRequest{Content: "hi"})

	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "scheduled_at", ve.Field)
}

func TestValidateBulkRequest(t *testing.T) {
	valid := BulkScheduleRequest{
		Items:      []BulkEntry{{Content: "a"}},
		StartDate:  "2026-03-02",
		DailyTimes: []string{"09:00"},
		DaysOfWeek: []int{0, 6},
	}
	require.NoError(t, Validate(&valid))

	badDay := valid
	badDay.DaysOfWeek = []int{7}
	assert.True(t, apperr.IsValidation(Validate(&badDay)))

	empty := valid
	empty.Items = nil
	assert.True(t, apperr.IsValidation(Validate(&empty)))

	noContent := valid
	noContent.Items = []BulkEntry{{}}
	assert.True(t, apperr.IsValidation(Validate(&noContent)))
}

func TestValidateTimelineQuery(t *testing.T) {
	assert.NoError(t, Validate(&TimelineQuery{Status: "failed", Limit: 20}))
	assert.Error(t, Validate(&TimelineQuery{Status: "done"}))
	assert.Error(t, Validate(&TimelineQuery{Limit: 500}))
}
