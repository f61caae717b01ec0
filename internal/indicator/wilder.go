package indicator

// wilder is Wilder's smoothing recurrence:
//
//	new = (old*(period-1) + sample) / period
//
// seeded by the simple average of the first period samples. The update is
// evaluated in exactly that form so results match other implementations
// bit for bit.
type wilder struct {
	period int
	first  float64
	sum    float64
	n      int
	value  float64
	ready  bool
}

func newWilder(period int) wilder {
	return wilder{period: period}
}

func (w *wilder) add(x float64) {
	if w.ready {
		w.value = (w.value*float64(w.period-1) + x) / float64(w.period)
		return
	}
	if w.n == 0 {
		w.first = x
	}
	w.sum += x - w.first
	w.n++
	if w.n == w.period {
		w.value = w.first + w.sum/float64(w.period)
		w.ready = true
	}
}

func (w *wilder) reset() {
	*w = wilder{period: w.period}
}
