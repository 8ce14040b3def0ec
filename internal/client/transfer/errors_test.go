package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrijs2005/gophupload/internal/netx"
)

func TestError_Retryable(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want bool
	}{
		{"network", &Error{Kind: KindNetwork}, true},
		{"timeout", &Error{Kind: KindTimeout}, true},
		{"5xx", Rejected(http.StatusServiceUnavailable, "busy"), true},
		{"4xx", Rejected(http.StatusRequestEntityTooLarge, "too big"), false},
		{"cancelled", Cancelled(context.Canceled), false},
		{"source", SourceError(errors.New("gone")), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Retryable())
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.Equal(t, Kind(0), KindOf(nil))

	assert.Equal(t, KindCancelled, KindOf(fmt.Errorf("post: %w", context.Canceled)))
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindNetwork, KindOf(errors.New("connection reset by peer")))

	se := Classify(&netx.StatusError{StatusCode: 404, Body: "no such parent"})
	assert.Equal(t, KindServerRejected, se.Kind)
	assert.Equal(t, 404, se.Status)
	assert.Equal(t, "no such parent", se.Message)

	orig := Rejected(400, "bad")
	assert.Same(t, orig, Classify(fmt.Errorf("chunk 2/3: %w", orig)))
}

func TestError_Messages(t *testing.T) {
	assert.Equal(t, "server rejected upload: HTTP 413: too big", Rejected(413, "too big").Error())
	assert.Equal(t, "server rejected upload: HTTP 500", Rejected(500, "").Error())
	assert.Equal(t, "upload cancelled", Cancelled(context.Canceled).Error())
	assert.Equal(t, "network error: boom", (&Error{Kind: KindNetwork, Err: errors.New("boom")}).Error())
	assert.Equal(t, "timeout error", (&Error{Kind: KindTimeout}).Error())

	inner := errors.New("eof")
	assert.ErrorIs(t, SourceError(inner), inner)
}
