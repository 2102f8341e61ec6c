package engine

import (
	"context"
	"net"

	"github.com/stretchr/testify/mock"
)

// MockEngine is a testify mock of Engine.
type MockEngine struct {
	mock.Mock
}

var _ Engine = (*MockEngine)(nil)

func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

func (m *MockEngine) Create(family Family, mode Mode) (Handle, error) {
	args := m.Called(family, mode)
	return args.Get(0).(Handle), args.Error(1)
}

func (m *MockEngine) Bind(h Handle, addr string) error {
	return m.Called(h, addr).Error(0)
}

func (m *MockEngine) Listen(h Handle, backlog int) error {
	return m.Called(h, backlog).Error(0)
}

func (m *MockEngine) Accept(h Handle) (Handle, error) {
	args := m.Called(h)
	return args.Get(0).(Handle), args.Error(1)
}

func (m *MockEngine) Connect(h Handle, addr string) error {
	return m.Called(h, addr).Error(0)
}

func (m *MockEngine) Send(h Handle, p []byte) (int, error) {
	args := m.Called(h, p)
	return args.Int(0), args.Error(1)
}

func (m *MockEngine) Recv(h Handle, p []byte) (int, error) {
	args := m.Called(h, p)
	return args.Int(0), args.Error(1)
}

func (m *MockEngine) SendMessage(h Handle, p []byte) error {
	return m.Called(h, p).Error(0)
}

func (m *MockEngine) RecvMessage(h Handle, p []byte) (int, error) {
	args := m.Called(h, p)
	return args.Int(0), args.Error(1)
}

func (m *MockEngine) SetOption(h Handle, opt Option, value int64) (int64, error) {
	args := m.Called(h, opt, value)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockEngine) GetOption(h Handle, opt Option) (int64, error) {
	args := m.Called(h, opt)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockEngine) Close(h Handle) error {
	return m.Called(h).Error(0)
}

func (m *MockEngine) Status(h Handle) State {
	return m.Called(h).Get(0).(State)
}

func (m *MockEngine) LocalAddr(h Handle) (net.Addr, error) {
	args := m.Called(h)
	addr, _ := args.Get(0).(net.Addr)
	return addr, args.Error(1)
}

func (m *MockEngine) PeerAddr(h Handle) (net.Addr, error) {
	args := m.Called(h)
	addr, _ := args.Get(0).(net.Addr)
	return addr, args.Error(1)
}

func (m *MockEngine) Wait(ctx context.Context, h Handle, ev Event) error {
	return m.Called(ctx, h, ev).Error(0)
}

func (m *MockEngine) Perf(h Handle) (PerfStats, error) {
	args := m.Called(h)
	return args.Get(0).(PerfStats), args.Error(1)
}
