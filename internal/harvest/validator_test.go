package harvest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func records(n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{Title: "Perda", DetailURL: "https://example.test/id/perda-x"}
	}
	return out
}

func TestValidate(t *testing.T) {
	t.Parallel()

	v := NewValidator(18, nil)

	tests := []struct {
		name       string
		items      int
		isLastPage bool
		want       bool
	}{
		{name: "full page passes", items: 20, isLastPage: false, want: true},
		{name: "at threshold passes", items: 18, isLastPage: false, want: true},
		{name: "below threshold fails", items: 17, isLastPage: false, want: false},
		{name: "empty ordinary page fails", items: 0, isLastPage: false, want: false},
		{name: "partial last page passes", items: 6, isLastPage: true, want: true},
		{name: "single item last page passes", items: 1, isLastPage: true, want: true},
		{name: "empty last page fails", items: 0, isLastPage: true, want: false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, v.Validate(records(tc.items), 4, tc.isLastPage))
		})
	}
}

func TestMinItems(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 18, NewValidator(18, nil).MinItems())
}
