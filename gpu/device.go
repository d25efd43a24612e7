package gpu

// Device bundles a context with the single ordered stream that all solver
// work is issued on.
//
// A Device is not safe for concurrent use. The solver drives it from one
// goroutine; kernels themselves may run in parallel inside the backend.
type Device struct {
	ctx    Context
	stream Stream
	info   DeviceInfo
}

// Open creates a Device using the registered backend.
func Open(opts Options) (*Device, error) {
	backend := getBackend()
	if backend == nil {
		return nil, ErrNoBackend
	}

	if !backend.Available() {
		return nil, ErrBackendUnavailable
	}

	ctx, err := backend.NewContext(opts.DeviceIndex)
	if err != nil {
		return nil, err
	}

	stream, err := ctx.NewStream()
	if err != nil {
		_ = ctx.Close()
		return nil, err
	}

	return &Device{
		ctx:    ctx,
		stream: stream,
		info:   ctx.Device(),
	}, nil
}

// Info describes the underlying device.
func (d *Device) Info() DeviceInfo {
	if d == nil {
		return DeviceInfo{}
	}
	return d.info
}

// Context returns the allocation context.
func (d *Device) Context() Context {
	return d.ctx
}

// Stream returns the device's instruction stream.
func (d *Device) Stream() Stream {
	return d.stream
}

// Alloc allocates a buffer and, when src is non-nil, uploads it.
func (d *Device) Alloc(n int, src []float64) (Buffer, error) {
	if d == nil || d.ctx == nil {
		return nil, ErrClosed
	}
	buf, err := d.ctx.NewBuffer(n)
	if err != nil {
		return nil, err
	}
	if src != nil {
		if err := buf.Upload(src); err != nil {
			_ = buf.Close()
			return nil, err
		}
	}
	return buf, nil
}

// Close releases the stream and the context.
func (d *Device) Close() error {
	if d == nil {
		return nil
	}
	var firstErr error
	if d.stream != nil {
		if err := d.stream.Close(); err != nil {
			firstErr = err
		}
		d.stream = nil
	}
	if d.ctx != nil {
		if err := d.ctx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.ctx = nil
	}
	return firstErr
}
