package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckAgainst(t *testing.T) {
	t.Parallel()

	tests := []struct {
		constraint string
		engine     string
		wantErr    bool
	}{
		{constraint: "", engine: "0.2.0"},
		{constraint: ">= 0.1", engine: "0.2.0"},
		{constraint: "~0.2", engine: "0.2.5"},
		{constraint: "^1.0", engine: "0.2.0", wantErr: true},
		{constraint: "< 0.1", engine: "0.2.0", wantErr: true},
		{constraint: "not a constraint", engine: "0.2.0", wantErr: true},
		{constraint: ">= 0.1", engine: "dev", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.constraint+"/"+tt.engine, func(t *testing.T) {
			err := checkAgainst(tt.constraint, tt.engine)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckConstraintUsesVersion(t *testing.T) {
	t.Parallel()

	assert.NoError(t, CheckConstraint(">= 0.1"))
	assert.NoError(t, CheckConstraint("= "+Version))
	assert.Equal(t, Version, GetVersion())
}

func TestCompare(t *testing.T) {
	t.Parallel()

	assert.Equal(t, -1, Compare("0.1.0", "0.2.0"))
	assert.Equal(t, 0, Compare("v1.2.3", "1.2.3"))
	assert.Equal(t, 1, Compare("1.0.0", "1.0.0-beta"))
	assert.Equal(t, -1, Compare("garbage", "1.0.0"))
}
