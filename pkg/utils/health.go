package utils

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

type ComponentHealth struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message"`
	LastCheck time.Time    `json:"last_check"`
	Uptime    time.Duration `json:"uptime"`
}

type HealthMonitor struct {
	log           *zap.Logger
	components    map[string]*ComponentHealth
	mutex         sync.RWMutex
	startTime     time.Time
	checkInterval time.Duration
	healthChecks  map[string]func() (HealthStatus, string)
}

func NewHealthMonitor(log *zap.Logger, checkInterval time.Duration) *HealthMonitor {
	return &HealthMonitor{
		log:           log,
		components:    make(map[string]*ComponentHealth),
		startTime:     time.Now(),
		checkInterval: checkInterval,
		healthChecks:  make(map[string]func() (HealthStatus, string)),
	}
}

func (hm *HealthMonitor) RegisterComponent(name string, healthCheck func() (HealthStatus, string)) {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()
	
	hm.components[name] = &ComponentHealth{
		Name:      name,
		Status:    StatusHealthy,
		LastCheck: time.Now(),
		Uptime:    0,
	}
	
	hm.healthChecks[name] = healthCheck
	hm.log.Info("health monitor registered", zap.String("component", name))
}

func (hm *HealthMonitor) CheckHealth(name string) {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()
	
	if check, exists := hm.healthChecks[name]; exists {
		status, message := check()
		
		if comp, ok := hm.components[name]; ok {
			comp.Status = status
			comp.Message = message
			comp.LastCheck = time.Now()
			comp.Uptime = time.Since(hm.startTime)
			
			if status == StatusUnhealthy {
				hm.log.Warn("component unhealthy", zap.String("component", name), zap.String("message", message))
			} else if status == StatusDegraded {
				hm.log.Warn("component degraded", zap.String("component", name), zap.String("message", message))
			}
		}
	}
}

func (hm *HealthMonitor) CheckAllHealth() {
	for name := range hm.healthChecks {
		hm.CheckHealth(name)
	}
}

func (hm *HealthMonitor) GetHealth(name string) *ComponentHealth {
	hm.mutex.RLock()
	defer hm.mutex.RUnlock()
	
	if comp, exists := hm.components[name]; exists {
		return comp
	}
	return nil
}

func (hm *HealthMonitor) GetOverallHealth() HealthStatus {
	hm.mutex.RLock()
	defer hm.mutex.RUnlock()
	
	hasUnhealthy := false
	hasDegraded := false
	
	for _, comp := range hm.components {
		if comp.Status == StatusUnhealthy {
			hasUnhealthy = true
		} else if comp.Status == StatusDegraded {
			hasDegraded = true
		}
	}
	
	if hasUnhealthy {
		return StatusUnhealthy
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

func (hm *HealthMonitor) GetHealthReport() string {
	hm.mutex.RLock()
	defer hm.mutex.RUnlock()
	
	report := map[string]interface{}{
		"overall_status": hm.GetOverallHealth(),
		"uptime":         time.Since(hm.startTime).String(),
		"components":     hm.components,
		"timestamp":      time.Now(),
	}
	
	jsonReport, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Sprintf("Error generating report: %v", err)
	}
	
	return string(jsonReport)
}

func (hm *HealthMonitor) StartPeriodicChecks() {
	go func() {
		ticker := time.NewTicker(hm.checkInterval)
		defer ticker.Stop()
		
		for range ticker.C {
			hm.CheckAllHealth()
		}
	}()

	hm.log.Info("health monitor started", zap.Duration("interval", hm.checkInterval))
}
