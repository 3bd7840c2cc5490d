// Package mocks contains gomock-compatible test doubles for the
// leaderelection package's external-collaborator interfaces (Client,
// Bus). Hand-written in mockgen's own calling convention since no
// generation step runs in this repository; regenerate with:
//
//	mockgen -destination=internal/leaderelection/mocks/mocks.go -package=mocks github.com/Precise-Finance/k8s-leader-election/internal/leaderelection Client,Bus
package mocks

import (
	"context"
	"reflect"

	"go.uber.org/mock/gomock"

	le "github.com/Precise-Finance/k8s-leader-election/internal/leaderelection"
)

// MockClient is a mock of the leaderelection.Client interface.
type MockClient struct {
	ctrl     *gomock.Controller
	recorder *MockClientMockRecorder
}

// MockClientMockRecorder is the mock recorder for MockClient.
type MockClientMockRecorder struct {
	mock *MockClient
}

// NewMockClient creates a new mock instance.
func NewMockClient(ctrl *gomock.Controller) *MockClient {
	mock := &MockClient{ctrl: ctrl}
	mock.recorder = &MockClientMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockClient) EXPECT() *MockClientMockRecorder {
	return m.recorder
}

// Read mocks base method.
func (m *MockClient) Read(ctx context.Context, name, namespace string) (*le.Record, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Read", ctx, name, namespace)
	ret0, _ := ret[0].(*le.Record)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Read indicates an expected call of Read.
func (mr *MockClientMockRecorder) Read(ctx, name, namespace interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Read", reflect.TypeOf((*MockClient)(nil).Read), ctx, name, namespace)
}

// Create mocks base method.
func (m *MockClient) Create(ctx context.Context, namespace string, record *le.Record) (*le.Record, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Create", ctx, namespace, record)
	ret0, _ := ret[0].(*le.Record)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Create indicates an expected call of Create.
func (mr *MockClientMockRecorder) Create(ctx, namespace, record interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Create", reflect.TypeOf((*MockClient)(nil).Create), ctx, namespace, record)
}

// Replace mocks base method.
func (m *MockClient) Replace(ctx context.Context, name, namespace string, record *le.Record) (*le.Record, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Replace", ctx, name, namespace, record)
	ret0, _ := ret[0].(*le.Record)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Replace indicates an expected call of Replace.
func (mr *MockClientMockRecorder) Replace(ctx, name, namespace, record interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Replace", reflect.TypeOf((*MockClient)(nil).Replace), ctx, name, namespace, record)
}

// Watch mocks base method.
func (m *MockClient) Watch(ctx context.Context, namespace string, handler le.EventHandler, onClose func(error)) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Watch", ctx, namespace, handler, onClose)
	ret0, _ := ret[0].(error)
	return ret0
}

// Watch indicates an expected call of Watch.
func (mr *MockClientMockRecorder) Watch(ctx, namespace, handler, onClose interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Watch", reflect.TypeOf((*MockClient)(nil).Watch), ctx, namespace, handler, onClose)
}

// MockBus is a mock of the leaderelection.Bus interface.
type MockBus struct {
	ctrl     *gomock.Controller
	recorder *MockBusMockRecorder
}

// MockBusMockRecorder is the mock recorder for MockBus.
type MockBusMockRecorder struct {
	mock *MockBus
}

// NewMockBus creates a new mock instance.
func NewMockBus(ctrl *gomock.Controller) *MockBus {
	mock := &MockBus{ctrl: ctrl}
	mock.recorder = &MockBusMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockBus) EXPECT() *MockBusMockRecorder {
	return m.recorder
}

// Publish mocks base method.
func (m *MockBus) Publish(topic string, event le.Event) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "Publish", topic, event)
}

// Publish indicates an expected call of Publish.
func (mr *MockBusMockRecorder) Publish(topic, event interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Publish", reflect.TypeOf((*MockBus)(nil).Publish), topic, event)
}
