package ebus

import (
	"errors"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Message carries one published value.
type Message struct {
	Topic string
	Data  float64
}

// Bus is an in-process value bus for decoded parameters. Publishers are
// decoupled from subscribers through a single goroutine; the last value
// per topic is kept in a TTL cache and replayed to new subscribers.
type Bus struct {
	subs      map[string][]chan float64
	subsMutex sync.Mutex

	subsAll      []chan *Message
	subsAllMutex sync.Mutex

	inChan       chan *Message
	unsubChan    chan chan float64
	unsubAllChan chan chan *Message
	quit         chan struct{}
	done         chan struct{}

	cache *ttlcache.Cache[string, float64]

	aggregators     []*Aggregator
	aggregatorsLock sync.Mutex

	closeOnce sync.Once
}

// New starts the bus goroutine. Close releases it.
func New() *Bus {
	b := &Bus{
		subs:         make(map[string][]chan float64),
		inChan:       make(chan *Message, 100),
		unsubChan:    make(chan chan float64, 100),
		unsubAllChan: make(chan chan *Message, 100),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		cache: ttlcache.New(
			ttlcache.WithTTL[string, float64](1 * time.Minute),
		),
	}
	go b.run()
	return b
}

func (b *Bus) run() {
	defer close(b.done)
	for {
		select {
		case <-b.quit:
			return
		case msg := <-b.inChan:
			if v := b.cache.Get(msg.Topic); v != nil {
				if v.Value() == msg.Data {
					continue
				}
			}
			b.cache.Set(msg.Topic, msg.Data, ttlcache.DefaultTTL)
			for _, sub := range b.subsAll {
				select {
				case sub <- msg:
				default:
					b.UnsubscribeAll(sub)
				}
			}
			for _, sub := range b.subs[msg.Topic] {
				select {
				case sub <- msg.Data:
				default:
				}
			}
			b.aggregatorsLock.Lock()
			for _, agg := range b.aggregators {
				agg.fun(msg.Topic, msg.Data)
			}
			b.aggregatorsLock.Unlock()
		case unsub := <-b.unsubAllChan:
			b.subsAllMutex.Lock()
			for i, sub := range b.subsAll {
				if sub == unsub {
					b.subsAll = append(b.subsAll[:i], b.subsAll[i+1:]...)
					close(sub)
					break
				}
			}
			b.subsAllMutex.Unlock()
		case unsub := <-b.unsubChan:
			b.subsMutex.Lock()
		outer:
			for topic, subz := range b.subs {
				for i, sub := range subz {
					if sub == unsub {
						b.subs[topic] = append(subz[:i], subz[i+1:]...)
						close(unsub)
						if len(b.subs[topic]) == 0 {
							delete(b.subs, topic)
						}
						break outer
					}
				}
			}
			b.subsMutex.Unlock()
		}
	}
}

// Publish offers a value to the bus without blocking.
func (b *Bus) Publish(topic string, data float64) error {
	select {
	case b.inChan <- &Message{Topic: topic, Data: data}:
		return nil
	case <-b.quit:
		return errors.New("bus closed")
	default:
		return errors.New("publish channel full")
	}
}

// SubscribeAll delivers every published value. The current cache
// content is replayed first.
func (b *Bus) SubscribeAll() chan *Message {
	respChan := make(chan *Message, 100)
	b.subsAllMutex.Lock()
	b.subsAll = append(b.subsAll, respChan)
	b.subsAllMutex.Unlock()

	b.cache.Range(func(item *ttlcache.Item[string, float64]) bool {
		respChan <- &Message{Topic: item.Key(), Data: item.Value()}
		return true
	})
	return respChan
}

func (b *Bus) SubscribeAllFunc(f func(topic string, value float64)) (cancel func()) {
	respChan := b.SubscribeAll()
	go func() {
		for v := range respChan {
			f(v.Topic, v.Data)
		}
	}()
	return func() {
		b.UnsubscribeAll(respChan)
	}
}

func (b *Bus) UnsubscribeAll(channel chan *Message) {
	select {
	case b.unsubAllChan <- channel:
	case <-b.quit:
	}
}

// Subscribe delivers values for one topic, starting with the cached
// last value when there is one.
func (b *Bus) Subscribe(topic string) chan float64 {
	respChan := make(chan float64, 100)
	b.subsMutex.Lock()
	b.subs[topic] = append(b.subs[topic], respChan)
	b.subsMutex.Unlock()
	if itm := b.cache.Get(topic); itm != nil {
		respChan <- itm.Value()
	}
	return respChan
}

// SubscribeFunc returns a function that can be used to unsubscribe.
func (b *Bus) SubscribeFunc(topic string, f func(float64)) (cancel func()) {
	respChan := b.Subscribe(topic)
	go func() {
		for v := range respChan {
			f(v)
		}
	}()
	return func() {
		b.Unsubscribe(respChan)
	}
}

func (b *Bus) Unsubscribe(channel chan float64) {
	select {
	case b.unsubChan <- channel:
	case <-b.quit:
	}
}

// Close stops the bus goroutine. Subscriber channels are not closed;
// they simply stop receiving.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.quit)
		<-b.done
	})
}
