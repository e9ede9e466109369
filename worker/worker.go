// Package worker runs inference backends on dedicated goroutines fed by a job
// queue. Each worker owns its backend because cascade classifiers are not safe
// for concurrent use.
package worker

import (
	iface "EmotionDet/interface"
	"EmotionDet/logger"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

var ErrClosed = errors.New("worker pool closed")

// Factory builds the backend owned by one worker.
type Factory func(id int) (iface.Backend, error)

type jobPackage struct {
	image  []byte
	result chan iface.Result
}

type Pool struct {
	jobs     chan jobPackage
	backends []iface.Backend
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// Start builds workerNum backends up front, so a broken cascade or model fails
// here rather than on the first request.
func Start(workerNum int, factory Factory) (*Pool, error) {
	if workerNum <= 0 {
		workerNum = 1
	}
	p := &Pool{jobs: make(chan jobPackage, workerNum)}
	for i := 0; i < workerNum; i++ {
		b, err := factory(i)
		if err != nil {
			for _, built := range p.backends {
				built.Destroy()
			}
			return nil, fmt.Errorf("worker %d: %w", i, err)
		}
		p.backends = append(p.backends, b)
	}
	for i, b := range p.backends {
		p.wg.Add(1)
		go p.runWorker(i, b)
	}
	return p, nil
}

func (p *Pool) runWorker(workerID int, backend iface.Backend) {
	defer p.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	logger.Log().Info("Worker created", zap.Int("worker", workerID))
	for job := range p.jobs {
		job.result <- p.process(workerID, backend, job.image)
	}
	backend.Destroy()
	logger.Log().Info("Worker stopped", zap.Int("worker", workerID))
}

func (p *Pool) process(workerID int, backend iface.Backend, data []byte) (res iface.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("Worker panic", zap.Int("worker", workerID), zap.Any("panic", r))
			res = iface.ErrorResult(fmt.Sprintf("inference error: %v", r))
		}
	}()
	img, err := DecodeImage(data)
	if err != nil {
		return iface.ErrorResult(err.Error())
	}
	defer func() {
		if err := img.Close(); err != nil {
			logger.Log().Error("error closing image", zap.Int("worker", workerID), zap.Error(err))
		}
	}()
	return backend.Classify(img)
}

// Submit queues an encoded image (jpg/png bytes) and waits for its result.
func (p *Pool) Submit(ctx context.Context, image []byte) (iface.Result, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return iface.Result{}, ErrClosed
	}
	job := jobPackage{image: image, result: make(chan iface.Result, 1)}
	select {
	case p.jobs <- job:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return iface.Result{}, ctx.Err()
	}
	select {
	case res := <-job.result:
		return res, nil
	case <-ctx.Done():
		return iface.Result{}, ctx.Err()
	}
}

// Config reports the configuration of the first backend; all workers share the
// same model and cascade.
func (p *Pool) Config() iface.EngineConfig {
	return p.backends[0].CheckConfig()
}

func (p *Pool) Size() int {
	return len(p.backends)
}

// Close stops accepting jobs, drains the queue and destroys the backends.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

// DecodeImage turns encoded image bytes into a BGR Mat. On error the returned
// Mat holds no memory and needs no Close.
func DecodeImage(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.Mat{}, errors.New("empty image data")
	}
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		if mat.Ptr() != nil {
			mat.Close()
		}
		return gocv.Mat{}, err
	}
	if mat.Empty() {
		mat.Close()
		return gocv.Mat{}, errors.New("decoded image is empty or unsupported format")
	}
	return mat, nil
}
