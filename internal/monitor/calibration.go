package monitor

import (
	"time"

	"github.com/afroash/envmon/internal/display"
	"github.com/afroash/envmon/internal/models"
	"github.com/afroash/envmon/internal/sensor"
)

// calibration accumulates per-driver sums over the calibration samples
type calibration struct {
	taken int
	last  time.Time

	climateN int
	temp     int64
	press    int64
	hum      int64

	airN int
	aqi  int64
	tvoc int64
	eco2 int64

	pmN       int
	pm1       int64
	pm25      int64
	pm10      int64
	particles [6]int64
}

func (c *calibration) add(s models.SensorSnapshot, res sensor.PollResult) {
	if res.Climate {
		c.climateN++
		c.temp += int64(s.TemperatureX10)
		c.press += int64(s.PressureX10)
		c.hum += int64(s.HumidityX10)
	}
	if res.AirQuality {
		c.airN++
		c.aqi += int64(s.AQI)
		c.tvoc += int64(s.TVOC)
		c.eco2 += int64(s.ECO2)
	}
	if res.Particulate {
		c.pmN++
		c.pm1 += int64(s.PM1_0)
		c.pm25 += int64(s.PM2_5)
		c.pm10 += int64(s.PM10)
		for i, v := range bins(s.Particles) {
			c.particles[i] += int64(v)
		}
	}
}

// apply writes the averages into s; drivers without a successful sample keep their values
func (c *calibration) apply(s *models.SensorSnapshot) {
	if c.climateN > 0 {
		n := int64(c.climateN)
		s.TemperatureX10 = int32(avg(c.temp, n))
		s.PressureX10 = int32(avg(c.press, n))
		s.HumidityX10 = int32(avg(c.hum, n))
	}
	if c.airN > 0 {
		n := int64(c.airN)
		s.AQI = uint8(avg(c.aqi, n))
		s.TVOC = uint16(avg(c.tvoc, n))
		s.ECO2 = uint16(avg(c.eco2, n))
	}
	if c.pmN > 0 {
		n := int64(c.pmN)
		s.PM1_0 = uint16(avg(c.pm1, n))
		s.PM2_5 = uint16(avg(c.pm25, n))
		s.PM10 = uint16(avg(c.pm10, n))
		p := &s.Particles
		for i, dst := range []*uint16{&p.Over0_3um, &p.Over0_5um, &p.Over1_0um, &p.Over2_5um, &p.Over5_0um, &p.Over10um} {
			*dst = uint16(avg(c.particles[i], n))
		}
	}
}

func bins(p models.ParticleCounts) [6]uint16 {
	return [6]uint16{p.Over0_3um, p.Over0_5um, p.Over1_0um, p.Over2_5um, p.Over5_0um, p.Over10um}
}

// avg rounds half away from zero
func avg(sum, n int64) int64 {
	if sum < 0 {
		return -((-sum + n/2) / n)
	}
	return (sum + n/2) / n
}

func (m *Monitor) startCalibration() {
	m.phase = PhaseCalibrating
	m.state.UI.Started = true
	m.cal = calibration{}
	m.logger.Info().Int("samples", m.cfg.CalibrationSamples).Msg("calibration started")
}

// calibrate takes at most one sample per call, never sleeping between samples
func (m *Monitor) calibrate(now time.Time) {
	if m.cal.taken > 0 && now.Sub(m.cal.last) < m.cfg.CalibrationInterval {
		return
	}

	m.show(display.Calibrating(m.cal.taken+1, m.cfg.CalibrationSamples))

	scratch := m.state.Snapshot
	res := m.deps.Sensors.Poll(&scratch, m.state.Health)
	if m.cal.taken > 0 {
		m.cal.add(scratch, res)
	}
	m.cal.taken++
	m.cal.last = now

	if m.cal.taken >= m.cfg.CalibrationSamples {
		m.finishCalibration()
	}
}

func (m *Monitor) finishCalibration() {
	m.cal.apply(&m.state.Snapshot)
	m.logger.Info().
		Int("climate", m.cal.climateN).
		Int("air_quality", m.cal.airN).
		Int("particulate", m.cal.pmN).
		Stringer("baseline", m.state.Snapshot).
		Msg("calibration finished")

	m.evaluate()
	m.triggerSync()

	now := m.clock.Now()
	m.lastSample = now
	m.lastSync = now
	m.lastRotate = now
	m.state.UI.Screen = 0
	m.phase = PhaseRunning
	m.render()
}
