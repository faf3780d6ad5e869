package rpc

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"
)

type MockTransport struct {
	mock.Mock
}

// CallContext writes the mocked result (marshalled to JSON) into result.
func (m *MockTransport) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	ret := m.Called(ctx, method, args)
	if err := ret.Error(1); err != nil {
		return err
	}
	if v := ret.Get(0); v != nil && result != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, result)
	}
	return nil
}

func (m *MockTransport) Close() {
	m.Called()
}
