// Package transporttest provides a go.uber.org/mock-generated-style
// mock of transport.Transport, used to unit-test pkg/gateway without a
// real network or the in-memory harness.
//
// Written by hand in the layout MockGen emits.
// Source: github.com/ipaproto/helper/pkg/transport (interfaces: Transport)
package transporttest

import (
	"context"
	"reflect"

	"go.uber.org/mock/gomock"

	"github.com/ipaproto/helper/pkg/transport"
	"github.com/ipaproto/helper/pkg/types"
)

// MockTransport is a mock of the Transport interface.
type MockTransport struct {
	ctrl     *gomock.Controller
	recorder *MockTransportMockRecorder
}

// MockTransportMockRecorder is the mock recorder for MockTransport.
type MockTransportMockRecorder struct {
	mock *MockTransport
}

// NewMockTransport creates a new mock instance.
func NewMockTransport(ctrl *gomock.Controller) *MockTransport {
	mock := &MockTransport{ctrl: ctrl}
	mock.recorder = &MockTransportMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockTransport) EXPECT() *MockTransportMockRecorder {
	return m.recorder
}

// SendControl mocks base method.
func (m *MockTransport) SendControl(ctx context.Context, destination types.HelperIdentity, msg transport.Message) ([]byte, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "SendControl", ctx, destination, msg)
	ret0, _ := ret[0].([]byte)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// SendControl indicates an expected call of SendControl.
func (mr *MockTransportMockRecorder) SendControl(ctx, destination, msg any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "SendControl", reflect.TypeOf((*MockTransport)(nil).SendControl), ctx, destination, msg)
}

// OpenRecordsWriter mocks base method.
func (m *MockTransport) OpenRecordsWriter(ctx context.Context, destination types.HelperIdentity, key transport.RecordsKey) (transport.RecordsWriter, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "OpenRecordsWriter", ctx, destination, key)
	ret0, _ := ret[0].(transport.RecordsWriter)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// OpenRecordsWriter indicates an expected call of OpenRecordsWriter.
func (mr *MockTransportMockRecorder) OpenRecordsWriter(ctx, destination, key any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "OpenRecordsWriter", reflect.TypeOf((*MockTransport)(nil).OpenRecordsWriter), ctx, destination, key)
}

// OpenRecordsReader mocks base method.
func (m *MockTransport) OpenRecordsReader(ctx context.Context, source types.HelperIdentity, key transport.RecordsKey) (transport.RecordsReader, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "OpenRecordsReader", ctx, source, key)
	ret0, _ := ret[0].(transport.RecordsReader)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// OpenRecordsReader indicates an expected call of OpenRecordsReader.
func (mr *MockTransportMockRecorder) OpenRecordsReader(ctx, source, key any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "OpenRecordsReader", reflect.TypeOf((*MockTransport)(nil).OpenRecordsReader), ctx, source, key)
}

// Handler mocks base method.
func (m *MockTransport) Handler(route transport.Route, fn transport.ControlHandler) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "Handler", route, fn)
}

// Handler indicates an expected call of Handler.
func (mr *MockTransportMockRecorder) Handler(route, fn any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Handler", reflect.TypeOf((*MockTransport)(nil).Handler), route, fn)
}

// RecordsHandler mocks base method.
func (m *MockTransport) RecordsHandler(fn transport.RecordsHandler) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "RecordsHandler", fn)
}

// RecordsHandler indicates an expected call of RecordsHandler.
func (mr *MockTransportMockRecorder) RecordsHandler(fn any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "RecordsHandler", reflect.TypeOf((*MockTransport)(nil).RecordsHandler), fn)
}

// Self mocks base method.
func (m *MockTransport) Self() types.HelperIdentity {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Self")
	ret0, _ := ret[0].(types.HelperIdentity)
	return ret0
}

// Self indicates an expected call of Self.
func (mr *MockTransportMockRecorder) Self() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Self", reflect.TypeOf((*MockTransport)(nil).Self))
}

var _ transport.Transport = (*MockTransport)(nil)
