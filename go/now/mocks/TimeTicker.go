package mocks

import (
	time "time"

	mock "github.com/stretchr/testify/mock"
)

// TimeTicker is a mock of now.TimeTicker, built by hand in the shape
// mockery would generate for it (the generated file itself was not part
// of the retrieved sources, only generate.go's reference to it).
type TimeTicker struct {
	mock.Mock
}

func (m *TimeTicker) C() <-chan time.Time {
	ret := m.Called()
	return ret.Get(0).(<-chan time.Time)
}

func (m *TimeTicker) Stop() {
	m.Called()
}
