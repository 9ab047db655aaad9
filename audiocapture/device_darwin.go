//go:build darwin

package audiocapture

/*
#cgo CFLAGS: -x objective-c -fobjc-arc -mmacosx-version-min=13.0
#cgo LDFLAGS: -framework AVFoundation -framework AudioToolbox -framework Foundation

#include <stdlib.h>

extern int mozhiStartMicCapture(int targetSampleRate, char** errOut);
extern void mozhiStopMicCapture(void);
*/
import "C"

import (
	"errors"
	"sync"
	"unsafe"
)

// Global deliver function for the CGO callback. Only one capture at a time.
var (
	globalDeliver   func([]float32)
	globalDeliverMu sync.RWMutex
)

//export goMicCallback
func goMicCallback(samples *C.float, count C.int) {
	n := int(count)
	if n <= 0 {
		return
	}

	globalDeliverMu.RLock()
	deliver := globalDeliver
	globalDeliverMu.RUnlock()

	if deliver == nil {
		return
	}

	// Convert C array to Go slice without extra allocation.
	// Safe because samples are consumed before this function returns.
	goSamples := unsafe.Slice((*float32)(unsafe.Pointer(samples)), n)
	deliver(goSamples)
}

// micDevice is the macOS microphone backend using AVAudioEngine.
type micDevice struct {
	mu      sync.Mutex
	running bool
}

func newDevice() (Device, error) {
	return &micDevice{}, nil
}

func (d *micDevice) Start(sampleRate int, deliver func([]float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return ErrRunning
	}

	globalDeliverMu.Lock()
	globalDeliver = deliver
	globalDeliverMu.Unlock()

	var errStr *C.char
	result := C.mozhiStartMicCapture(C.int(sampleRate), &errStr)
	if result != 0 {
		globalDeliverMu.Lock()
		globalDeliver = nil
		globalDeliverMu.Unlock()

		var detail string
		if errStr != nil {
			detail = C.GoString(errStr)
			C.free(unsafe.Pointer(errStr))
		}

		switch result {
		case 2:
			return ErrPermissionDenied
		case 3:
			return ErrNoDevice
		default:
			if detail != "" {
				return errors.New("audiocapture: " + detail)
			}
			return errors.New("audiocapture: unknown device error")
		}
	}

	d.running = true
	return nil
}

func (d *micDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	C.mozhiStopMicCapture()

	globalDeliverMu.Lock()
	globalDeliver = nil
	globalDeliverMu.Unlock()

	d.running = false
	return nil
}
