// Package testutils provides shared test doubles for the boost coordinator's
// collaborators.
package testutils

import (
	"github.com/stretchr/testify/mock"
)

type MockCoreProvider struct {
	mock.Mock
}

func (m *MockCoreProvider) PresentCPUs() []uint {
	ret := m.Called().Get(0)
	if ret == nil {
		return nil
	}
	return ret.([]uint)
}

func (m *MockCoreProvider) OnlineCPUs() []uint {
	ret := m.Called().Get(0)
	if ret == nil {
		return nil
	}
	return ret.([]uint)
}

type MockPolicyAuthority struct {
	mock.Mock
}

func (m *MockPolicyAuthority) Refresh(cpu uint) {
	m.Called(cpu)
}

type MockInputHandler struct {
	mock.Mock
}

func (m *MockInputHandler) InputEvent() {
	m.Called()
}
