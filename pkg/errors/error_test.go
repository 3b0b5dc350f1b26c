package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ErrorTestSuite struct {
	suite.Suite
}

func TestErrorSuite(t *testing.T) {
	suite.Run(t, new(ErrorTestSuite))
}

func (suite *ErrorTestSuite) TestNewError() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.NotNil(err)
	suite.Equal(ErrCodeInvalidParameter, err.Code)
	suite.Equal("invalid parameter", err.Message)
	suite.Nil(err.Cause)
}

func (suite *ErrorTestSuite) TestNewfError() {
	err := Newf(ErrCodeInvalidParameter, "invalid parameter: %s", "test")
	suite.NotNil(err)
	suite.Equal(ErrCodeInvalidParameter, err.Code)
	suite.Equal("invalid parameter: test", err.Message)
	suite.Nil(err.Cause)
}

func (suite *ErrorTestSuite) TestWrapError() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeQueryFailed, "failed to execute query", cause)
	suite.NotNil(err)
	suite.Equal(ErrCodeQueryFailed, err.Code)
	suite.Equal(cause, err.Cause)
	suite.Equal(cause, err.Unwrap())
}

func (suite *ErrorTestSuite) TestErrorString() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.Equal("[100] invalid parameter", err.Error())
}

func (suite *ErrorTestSuite) TestErrorStringWithCause() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeDataNotFound, "data not found", cause)
	suite.Equal("[200] data not found: underlying error", err.Error())
}

func (suite *ErrorTestSuite) TestGetCode() {
	err := New(ErrCodeOutOfOrderBar, "out of order")
	suite.Equal(ErrCodeOutOfOrderBar, GetCode(err))
	suite.Equal(ErrCodeUnknown, GetCode(errors.New("plain error")))
}

func (suite *ErrorTestSuite) TestHasCode() {
	err := New(ErrCodeNegativeCash, "cash below zero")
	suite.True(HasCode(err, ErrCodeNegativeCash))
	suite.False(HasCode(err, ErrCodeDataNotFound))
}

func (suite *ErrorTestSuite) TestHasCodeWrapped() {
	inner := New(ErrCodeZeroStopDistance, "stop distance is zero")
	outer := fmt.Errorf("sizing failed: %w", inner)
	suite.True(HasCode(outer, ErrCodeZeroStopDistance))
}

func (suite *ErrorTestSuite) TestSequenceError() {
	prev := time.Date(2016, 1, 4, 0, 0, 0, 0, time.UTC)
	got := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)
	err := NewSequenceError("AAPL", prev, got)
	suite.True(IsSequenceError(err))
	suite.Contains(err.Error(), "AAPL")

	wrapped := fmt.Errorf("indicator update: %w", err)
	suite.True(IsSequenceError(wrapped))
	suite.False(IsSequenceError(errors.New("other")))
}

func (suite *ErrorTestSuite) TestDataError() {
	err := NewDataErrorf("MSFT", "bar for %s has high %.2f below low %.2f", "MSFT", 1.0, 2.0)
	suite.True(IsDataError(err))
	suite.False(IsSequenceError(err))
	suite.Contains(err.Error(), "MSFT")
}

func (suite *ErrorTestSuite) TestSizingError() {
	err := NewSizingErrorf("NVDA", "stop distance is zero for %s", "NVDA")
	suite.True(IsSizingError(err))
	suite.False(IsDataError(err))

	wrapped := fmt.Errorf("risk evaluation: %w", err)
	suite.True(IsSizingError(wrapped))
}
