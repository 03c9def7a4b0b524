// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorUnwrapsSentinelAndCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := NewError(KindConnectionFailed, "dial failed", "fs", cause)

	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrServerNotFound)

	var hostErr *Error
	require.ErrorAs(t, fmt.Errorf("call failed: %w", err), &hostErr)
	assert.Equal(t, "fs", hostErr.ServerID)
	assert.Equal(t, KindConnectionFailed, hostErr.Kind)
}

func TestErrorMessageShape(t *testing.T) {
	t.Parallel()

	err := NewError(KindToolCallFailed, "boom", "fs", errors.New("io closed"))
	assert.Equal(t, "TOOL_CALL_FAILED (server fs): boom: io closed", err.Error())

	bare := NewError(KindServerNotFound, "", "", nil)
	assert.Equal(t, "SERVER_NOT_FOUND", bare.Error())
}

func TestAggregateErrorExposesMembers(t *testing.T) {
	t.Parallel()

	agg := &AggregateError{
		Message: "roots update failed for 2 of 3 servers",
		Errors: []*Error{
			NewError(KindRootsUpdateFailed, "notify failed", "a", nil),
			NewError(KindRootsUpdateFailed, "notify failed", "b", nil),
		},
	}

	assert.ErrorIs(t, agg, ErrRootsUpdateFailed)

	var hostErr *Error
	require.ErrorAs(t, agg, &hostErr)
	assert.Equal(t, "a", hostErr.ServerID)
	assert.Contains(t, agg.Error(), "2 of 3")
}

func TestProtocolError(t *testing.T) {
	t.Parallel()

	err := &ProtocolError{Code: CodeMethodNotFound, Message: "no such method"}
	assert.Equal(t, "jsonrpc error -32601: no such method", err.Error())
}
