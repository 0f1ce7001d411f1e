package config

import (
	"fmt"
	"strings"
)

// Sensor is a bit set of sensor kinds, bit i naming sensorNames[i].
type Sensor uint8

const (
	SensorGyro Sensor = 1 << iota
	SensorAcc
	SensorBaro
	SensorMag
	SensorSonar
	SensorGPS
	SensorGPSMag
)

var sensorNames = [...]string{"GYRO", "ACC", "BARO", "MAG", "SONAR", "GPS", "GPS+MAG"}

// Names lists the set bits in bit order.
func (s Sensor) Names() []string {
	var out []string
	for i, n := range sensorNames {
		if s&(1<<uint(i)) != 0 {
			out = append(out, n)
		}
	}
	return out
}

func (s Sensor) String() string { return strings.Join(s.Names(), " ") }

// ParseSensors folds case-insensitive sensor names into a mask.
func ParseSensors(names []string) (Sensor, error) {
	var m Sensor
next:
	for _, n := range names {
		for i, known := range sensorNames {
			if strings.EqualFold(n, known) {
				m |= 1 << uint(i)
				continue next
			}
		}
		return 0, fmt.Errorf("%w: %s", ErrUnknownSensor, n)
	}
	return m, nil
}
