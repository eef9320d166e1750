package core_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/becomeliminal/nim-bridge/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want core.Kind
	}{
		{fmt.Errorf("initiate d1: %w", core.ErrInsufficientAgents), core.KindValidation},
		{core.Invalidf("empty id"), core.KindValidation},
		{fmt.Errorf("tally: %w", core.ErrDecisionNotFound), core.KindNotFound},
		{core.ErrSessionNotFound, core.KindNotFound},
		{fmt.Errorf("vote: %w", core.ErrDuplicateVote), core.KindConflict},
		{core.ErrNoAvailableWorker, core.KindConflict},
		{errors.New("disk on fire"), core.KindInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, core.KindOf(tc.err), tc.err.Error())
	}
}

func TestDecodeParams(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	require.NoError(t, core.DecodeParams(nil, &dst))
	require.NoError(t, core.DecodeParams(json.RawMessage(`null`), &dst))
	require.NoError(t, core.DecodeParams(json.RawMessage(`{"name":"x"}`), &dst))
	assert.Equal(t, "x", dst.Name)

	err := core.DecodeParams(json.RawMessage(`{"name":`), &dst)
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}
