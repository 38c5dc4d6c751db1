// Copyright 2025 The GrepWise Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package healthchecks

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"

	"github.com/grepwise/grepwise/internal/logs"
)

const (
	tcpHost  = "0.0.0.0"
	tcp6Host = "::"
)

// PortsCheck verifies every port the node wants to listen on is still free.
// It runs before the listeners start, so a bound port means another process.
type PortsCheck struct {
	Ports []int
}

func (c PortsCheck) Name() string {
	return "Ports Check"
}

// checkIfPortAvailable listens on the provided host/port for the given
// network (tcp4, tcp6, ...) and distinguishes a port in use from other
// listen failures.
func checkIfPortAvailable(host string, port string, network string) (bool, error) {
	lsnr, err := net.Listen(network, net.JoinHostPort(host, port))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return false, nil
		}
		return false, fmt.Errorf("error listening to: %s, detail: %w", net.JoinHostPort(host, port), err)
	}
	lsnr.Close()
	return true, nil
}

func (c PortsCheck) RunCheck(logger logs.StructuredLogger) error {
	for _, port := range c.Ports {
		if err := runPortCheck(logger, port, tcpHost, "tcp4", ListenPortErr); err != nil {
			return err
		}
		if err := runPortCheck(logger, port, tcp6Host, "tcp6", ListenPortErr); err != nil {
			return err
		}
	}
	return nil
}

func runPortCheck(logger logs.StructuredLogger, port int, host, network string, healthCheckError error) error {
	available, err := checkIfPortAvailable(host, strconv.Itoa(port), network)
	if err != nil {
		return err
	}
	if !available {
		return fmt.Errorf("port %d: %w", port, healthCheckError)
	}
	logger.Infof("port %s is available", net.JoinHostPort(host, strconv.Itoa(port)))
	return nil
}
