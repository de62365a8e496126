//go:build windows

package wmi

import (
	"context"
	"errors"
	"fmt"
	"unsafe"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"go.uber.org/zap"
	"golang.org/x/sys/windows"

	"github.com/lauralex/PerformanceMonitorWidget/internal/perfmon"
)

var (
	modole32                 = windows.NewLazySystemDLL("ole32.dll")
	procCoInitializeSecurity = modole32.NewProc("CoInitializeSecurity")
	procCoSetProxyBlanket    = modole32.NewProc("CoSetProxyBlanket")
)

const (
	rpcAuthnWinNT          = 10
	rpcAuthzNone           = 0
	rpcAuthnLevelDefault   = 0
	rpcAuthnLevelCall      = 3
	rpcImpLevelImpersonate = 3
	eoacNone               = 0

	// RPC_E_TOO_LATE: process-wide security was already configured, which
	// is equivalent to success for our purposes.
	rpcETooLate = 0x80010119

	// S_FALSE from CoInitializeEx: the COM runtime was already initialized
	// on this thread.
	sFalse = 1

	wbemFlagReturnImmediately = 0x10
	wbemFlagForwardOnly       = 0x20
)

// oleBackend drives the Windows COM/WMI stack through OLE automation.
type oleBackend struct {
	logger *zap.Logger
}

// Compile-time interface guards.
var (
	_ perfmon.Backend   = (*oleBackend)(nil)
	_ perfmon.Locator   = (*oleLocator)(nil)
	_ perfmon.Session   = (*oleSession)(nil)
	_ perfmon.ResultSet = (*oleResultSet)(nil)
	_ perfmon.Row       = (*oleRow)(nil)
)

func newPlatformBackend(logger *zap.Logger) perfmon.Backend {
	return &oleBackend{logger: logger}
}

func (b *oleBackend) InitRuntime() error {
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		var oleErr *ole.OleError
		if errors.As(err, &oleErr) && oleErr.Code() == sFalse {
			return nil
		}
		return fmt.Errorf("initialize COM runtime: %w", err)
	}
	return nil
}

func (b *oleBackend) InitSecurity() error {
	hr, _, _ := procCoInitializeSecurity.Call(
		0,           // security descriptor
		^uintptr(0), // -1: let COM choose the authentication services
		0,           // authentication services
		0,           // reserved
		rpcAuthnLevelDefault,
		rpcImpLevelImpersonate,
		0, // authentication info
		eoacNone,
		0, // reserved
	)
	if int32(hr) < 0 {
		if uint32(hr) == rpcETooLate {
			b.logger.Debug("COM security already initialized for this process")
			return nil
		}
		return fmt.Errorf("CoInitializeSecurity: %w", ole.NewError(hr))
	}
	return nil
}

func (b *oleBackend) NewLocator() (perfmon.Locator, error) {
	unknown, err := oleutil.CreateObject("WbemScripting.SWbemLocator")
	if err != nil {
		return nil, fmt.Errorf("create SWbemLocator: %w", err)
	}
	dispatch, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		unknown.Release()
		return nil, fmt.Errorf("query SWbemLocator dispatch interface: %w", err)
	}
	return &oleLocator{unknown: unknown, dispatch: dispatch}, nil
}

func (b *oleBackend) TeardownRuntime() {
	ole.CoUninitialize()
}

type oleLocator struct {
	unknown  *ole.IUnknown
	dispatch *ole.IDispatch
}

func (l *oleLocator) ConnectServer(namespace string) (perfmon.Session, error) {
	// "." is the local computer.
	raw, err := oleutil.CallMethod(l.dispatch, "ConnectServer", ".", namespace)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", namespace, err)
	}
	return &oleSession{service: raw.ToIDispatch()}, nil
}

func (l *oleLocator) Release() {
	l.dispatch.Release()
	l.unknown.Release()
}

type oleSession struct {
	service *ole.IDispatch
}

func (s *oleSession) SetProxySecurity() error {
	hr, _, _ := procCoSetProxyBlanket.Call(
		uintptr(unsafe.Pointer(s.service)),
		rpcAuthnWinNT,
		rpcAuthzNone,
		0, // server principal name
		rpcAuthnLevelCall,
		rpcImpLevelImpersonate,
		0, // client identity
		eoacNone,
	)
	if int32(hr) < 0 {
		return fmt.Errorf("CoSetProxyBlanket: %w", ole.NewError(hr))
	}
	return nil
}

func (s *oleSession) ExecQuery(_ context.Context, wql string) (perfmon.ResultSet, error) {
	raw, err := oleutil.CallMethod(s.service, "ExecQuery", wql, "WQL",
		int32(wbemFlagForwardOnly|wbemFlagReturnImmediately))
	if err != nil {
		return nil, fmt.Errorf("exec query: %w", err)
	}
	result := raw.ToIDispatch()

	enumRaw, err := oleutil.GetProperty(result, "_NewEnum")
	if err != nil {
		result.Release()
		return nil, fmt.Errorf("get result enumerator: %w", err)
	}
	enum, err := enumRaw.ToIUnknown().IEnumVARIANT(ole.IID_IEnumVariant)
	if err != nil {
		enumRaw.Clear()
		result.Release()
		return nil, fmt.Errorf("query IEnumVARIANT: %w", err)
	}
	return &oleResultSet{result: result, enumRaw: enumRaw, enum: enum}, nil
}

func (s *oleSession) Release() {
	s.service.Release()
}

type oleResultSet struct {
	result  *ole.IDispatch
	enumRaw *ole.VARIANT
	enum    *ole.IEnumVARIANT
}

type enumNext struct {
	item   ole.VARIANT
	length int
	err    error
}

// Next advances the forward-only enumerator. The underlying COM call is
// synchronous and uncancellable, so it runs in a goroutine and the wait is
// bounded by ctx; a late-arriving row after timeout is drained and released.
func (r *oleResultSet) Next(ctx context.Context) (perfmon.Row, error) {
	done := make(chan enumNext, 1)
	go func() {
		item, length, err := r.enum.Next(1)
		done <- enumNext{item: item, length: int(length), err: err}
	}()

	select {
	case n := <-done:
		if n.err != nil {
			return nil, fmt.Errorf("advance result enumerator: %w", n.err)
		}
		if n.length == 0 {
			return nil, perfmon.ErrNoRows
		}
		item := n.item
		return &oleRow{variant: &item, item: item.ToIDispatch()}, nil
	case <-ctx.Done():
		go func() {
			n := <-done
			if n.err == nil && n.length > 0 {
				n.item.Clear()
			}
		}()
		return nil, ctx.Err()
	}
}

func (r *oleResultSet) Release() {
	r.enum.Release()
	r.enumRaw.Clear()
	r.result.Release()
}

type oleRow struct {
	variant *ole.VARIANT
	item    *ole.IDispatch
}

func (r *oleRow) Property(name string) (perfmon.Value, error) {
	prop, err := oleutil.GetProperty(r.item, name)
	if err != nil {
		return perfmon.Value{}, fmt.Errorf("get property %s: %w", name, err)
	}
	defer prop.Clear()

	switch prop.VT {
	case ole.VT_BSTR:
		return perfmon.StringValue(prop.ToString()), nil
	case ole.VT_I4:
		return perfmon.Int32Value(int32(prop.Val)), nil
	default:
		// Unknown tags are surfaced as-is; the decoder rejects them.
		return perfmon.Value{Kind: perfmon.KindUnknown}, nil
	}
}

func (r *oleRow) Release() {
	r.variant.Clear()
}
