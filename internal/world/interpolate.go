package world

import (
	"math"
	"time"
)

// Sample is a render-ready state of a cell at one instant
type Sample struct {
	X, Y, R float64
	JR      float64
	Alpha   float64
}

// Interpolator turns discrete frames into continuous positions.
// It holds no state; callers write results back into Interp.
type Interpolator struct {
	DrawDelay    time.Duration
	JellyEnabled bool
	JellyRate    float64
}

// Approach moves value toward target by exponential easing. factor is the
// number of 60Hz frames it takes to close ~63% of the gap; factor <= 1 snaps.
func Approach(value, target, factor float64, dt time.Duration) float64 {
	if factor <= 1 {
		return target
	}
	if dt <= 0 {
		return value
	}
	k := 1 - math.Pow(1-1/factor, 60*dt.Seconds())
	return value + (target-value)*k
}

// progress returns how far through the draw delay now is since from, in [0,1]
func (ip Interpolator) progress(from, now time.Time) float64 {
	if ip.DrawDelay <= 0 {
		return 1
	}
	t := float64(now.Sub(from)) / float64(ip.DrawDelay)
	return clamp01(t)
}

// At computes the rendered state of frame f with interpolation state st.
// killer/killerSt, when non-nil, describe the cell that consumed f.
func (ip Interpolator) At(f Frame, st Interp, killer *Frame, killerSt *Interp, passive bool, now time.Time) Sample {
	tx, ty := f.NX, f.NY
	if f.Dead() && killer != nil && killerSt != nil {
		// never chase a corpse that died at the same time or after us
		if !killer.Dead() || killer.DeadAt.Before(f.DeadAt) {
			k := ip.At(*killer, *killerSt, nil, nil, killer.Passive(), now)
			tx, ty = k.X, k.Y
		}
	}

	var s Sample
	if passive && !f.Dead() {
		s.X, s.Y, s.R = f.NX, f.NY, f.NR
	} else {
		t := ip.progress(st.Updated, now)
		s.X = st.OX + (tx-st.OX)*t
		s.Y = st.OY + (ty-st.OY)*t
		s.R = st.OR + (f.NR-st.OR)*t
	}

	alpha := math.Min(ip.progress(f.Born, now), clamp01(st.A+ip.progress(st.Updated, now)))
	if f.Dead() {
		alpha = math.Min(alpha, 1-ip.progress(f.DeadAt, now))
	}
	s.Alpha = alpha

	s.JR = s.R
	if ip.JellyEnabled && !passive && !st.JT.IsZero() {
		s.JR = Approach(st.JR, s.R, ip.JellyRate, now.Sub(st.JT))
	}
	return s
}

// rebase moves the origin to the sample so the next target is approached
// from where the cell is currently drawn
func (st *Interp) rebase(s Sample, now time.Time) {
	st.OX, st.OY, st.OR = s.X, s.Y, s.R
	st.A = s.Alpha
	st.Updated = now
}

// settle stores the jelly radius reached by a render
func (st *Interp) settle(s Sample, now time.Time) {
	st.JR = s.JR
	st.JT = now
}

// freshInterp starts interpolation at the target with zero opacity
func freshInterp(f Frame, now time.Time) Interp {
	return Interp{
		OX: f.NX, OY: f.NY, OR: f.NR,
		JR:      f.NR,
		Updated: now,
		JT:      now,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
