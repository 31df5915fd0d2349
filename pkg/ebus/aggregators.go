package ebus

// AggregatorFunc observes every published value.
type AggregatorFunc func(name string, value float64)

// Aggregator derives new topics from published ones.
type Aggregator struct {
	fun AggregatorFunc
}

func (b *Bus) RegisterAggregator(aggs ...*Aggregator) {
	b.aggregatorsLock.Lock()
	defer b.aggregatorsLock.Unlock()
outer:
	for _, agg := range aggs {
		for _, existing := range b.aggregators {
			if existing == agg {
				continue outer
			}
		}
		b.aggregators = append(b.aggregators, agg)
	}
}

// DIFFAggregator publishes second-first whenever both inputs have been
// seen since the last output.
func (b *Bus) DIFFAggregator(first, second, outputName string) *Aggregator {
	var firstUpdated, secondUpdated bool
	var firstValue, secondValue float64
	return &Aggregator{
		fun: func(name string, value float64) {
			if name == first {
				firstValue = value
				firstUpdated = true
			}
			if name == second {
				secondValue = value
				secondUpdated = true
			}
			if firstUpdated && secondUpdated {
				b.Publish(outputName, secondValue-firstValue)
				firstUpdated, secondUpdated = false, false
			}
		},
	}
}
