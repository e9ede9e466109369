package Adhoc

import (
	"EmotionDet/logger"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	HOGInstance    = 0x2001
	RawInstance    = 0x2002
	TimeOutSeconds = 5
)

type RegisterRequest struct {
	Id            string   `json:"id"`
	IP            string   `json:"ip"`
	Port          int      `json:"port"`
	RPCPort       int      `json:"rpcPort"`
	InstanceClass int      `json:"instanceClass"`
	ModelKind     string   `json:"modelKind"`
	Labels        []string `json:"labels"`
	TimeStamp     int64    `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port int
	Addr string
	// Interval between heartbeats; TimeOutSeconds when zero.
	Interval time.Duration
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

// Heartbeat describes this instance to the registry.
type Heartbeat struct {
	IP            string
	Port          int
	RPCPort       int
	InstanceClass int
	ModelKind     string
	Labels        []string
}

// SendAliveMessage posts the heartbeat to the registry once immediately and then
// every interval until ctx is cancelled.
func (reg *RegServerConfig) SendAliveMessage(ctx context.Context, hb Heartbeat, wg *sync.WaitGroup) {
	defer wg.Done()
	interval := reg.Interval
	if interval <= 0 {
		interval = TimeOutSeconds * time.Second
	}
	addr := fmt.Sprintf("%s:%d", reg.Addr, reg.Port)
	url := fmt.Sprintf("http://%s/api/register", addr)
	client := resty.New().SetTimeout(TimeOutSeconds * time.Second)
	id := uuid.NewString()
	logger.Log().Info("Registering instance", zap.String("id", id), zap.String("registry", addr))

	safeDoRequest := func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Log().Error("SendAliveMessage panic recovered", zap.Any("panic", r))
			}
		}()
		var respBody RegisterResponse
		reqBody := RegisterRequest{
			Id:            id,
			IP:            hb.IP,
			Port:          hb.Port,
			RPCPort:       hb.RPCPort,
			InstanceClass: hb.InstanceClass,
			ModelKind:     hb.ModelKind,
			Labels:        hb.Labels,
			TimeStamp:     time.Now().Unix(),
		}
		resp, err := client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(reqBody).
			SetResult(&respBody).
			Post(url)
		if err != nil {
			if ctx.Err() == nil {
				logger.Log().Error("request error", zap.Error(err))
			}
			return
		}
		if resp.IsError() {
			logger.Log().Error("server returned error", zap.String("status", resp.Status()), zap.String("body", resp.String()))
			return
		}
		if !respBody.Success {
			logger.Log().Warn("registry rejected heartbeat", zap.String("id", respBody.Id))
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	safeDoRequest()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("SendAliveMessage context cancelled, exiting goroutine.")
			return
		case <-ticker.C:
			safeDoRequest()
		}
	}
}
