package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		msg      string
		expected string
	}{
		{
			name:     "wrap nil error",
			err:      nil,
			msg:      "saving package state",
			expected: "",
		},
		{
			name:     "wrap sentinel",
			err:      ErrInvalidRecord,
			msg:      "record 3",
			expected: "record 3: invalid package record",
		},
		{
			name:     "wrap with empty message",
			err:      errors.New("original error"),
			msg:      "",
			expected: ": original error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Wrap(tt.err, tt.msg)
			if tt.err == nil {
				assert.NoError(t, result)
				return
			}
			require.Error(t, result)
			assert.Equal(t, tt.expected, result.Error())
			assert.ErrorIs(t, result, tt.err)
		})
	}
}

func TestWrapf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		format   string
		args     []interface{}
		expected string
	}{
		{
			name:     "wrapf nil error",
			err:      nil,
			format:   "package %s",
			args:     []interface{}{"Pack1"},
			expected: "",
		},
		{
			name:     "wrapf with multiple args",
			err:      ErrDuplicatePackage,
			format:   "adding %s-%s",
			args:     []interface{}{"Pack1", "iOS"},
			expected: "adding Pack1-iOS: a package with the same identity is already managed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Wrapf(tt.err, tt.format, tt.args...)
			if tt.err == nil {
				assert.NoError(t, result)
				return
			}
			require.Error(t, result)
			assert.Equal(t, tt.expected, result.Error())
			assert.ErrorIs(t, result, tt.err)
		})
	}
}

func TestTaxonomy(t *testing.T) {
	cause := errors.New("connection reset by peer")

	tests := []struct {
		name         string
		err          error
		transient    bool
		rejected     bool
		extraction   bool
		install      bool
		precondition bool
	}{
		{name: "transient transfer", err: NewTransferError(cause, "http://example.com/a.zip", 0), transient: true},
		{name: "server error transfer", err: NewTransferError(nil, "http://example.com/a.zip", 503), transient: true},
		{name: "rejected transfer", err: NewTransferRejectedError("http://example.com/a.zip", 404), rejected: true},
		{name: "extraction", err: NewExtractionError(cause, "/tmp/a.zip", "/tmp/a"), extraction: true},
		{name: "install", err: NewInstallError(cause, "Packages/a"), install: true},
		{name: "precondition", err: NewPreconditionError("enable", "Pack1-iOS-phonehd", "initial"), precondition: true},
		{name: "wrapped precondition", err: fmt.Errorf("cli: %w", NewPreconditionError("delete", "p", "downloading")), precondition: true},
		{name: "plain error", err: cause},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
			assert.Equal(t, tt.rejected, IsRejected(tt.err))
			assert.Equal(t, tt.extraction, IsExtraction(tt.err))
			assert.Equal(t, tt.install, IsInstall(tt.err))
			assert.Equal(t, tt.precondition, IsPrecondition(tt.err))
		})
	}
}

func TestPreconditionErrorMessage(t *testing.T) {
	err := NewPreconditionError("enable", "Pack1-iOS-phonehd", "installed-enabled")
	assert.Contains(t, err.Error(), "cannot enable package 'Pack1-iOS-phonehd' in status 'installed-enabled'")
}
