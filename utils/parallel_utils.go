package utils

import (
	"errors"
	"fmt"
	"sync"
)

type DynBuffer[T any] struct {
	cells []T
}

func NewDynBuffer[T any](capacity int) *DynBuffer[T] {
	return &DynBuffer[T]{cells: make([]T, 0, capacity)}
}

func (db *DynBuffer[T]) Add(c T)    { db.cells = append(db.cells, c) }
func (db *DynBuffer[T]) Cells() []T { return db.cells }
func (db *DynBuffer[T]) Reset()     { db.cells = db.cells[:0] }

type MailBox[T any] struct {
	NP           int
	MessageChans []chan *DynBuffer[T]    // One for each rank
	PostMsgQs    []map[int]*DynBuffer[T] // One for each rank, key is target rank
	ReceiveMsgQs []*DynBuffer[T]         // One for each rank
	MailFlag     []bool                  // Rank has messages in its outbox
}

func NewMailBox[T any](NP int) *MailBox[T] {
	mb := &MailBox[T]{
		NP:           NP,
		MessageChans: make([]chan *DynBuffer[T], NP),
		PostMsgQs:    make([]map[int]*DynBuffer[T], NP),
		ReceiveMsgQs: make([]*DynBuffer[T], NP),
		MailFlag:     make([]bool, NP),
	}
	for n := 0; n < NP; n++ {
		mb.MessageChans[n] = make(chan *DynBuffer[T], NP) // Worst case is all-to-all
		mb.PostMsgQs[n] = make(map[int]*DynBuffer[T])
		mb.ReceiveMsgQs[n] = NewDynBuffer[T](0)
	}
	return mb
}

func (mb *MailBox[T]) PostMessage(myRank, targetRank int, msg T) {
	tgt, exists := mb.PostMsgQs[myRank][targetRank]
	if !exists {
		tgt = NewDynBuffer[T](0)
		mb.PostMsgQs[myRank][targetRank] = tgt
	}
	tgt.Add(msg)
	mb.MailFlag[myRank] = true
}

// DeliverMyMessages must be followed by a barrier before receivers call
// ReceiveMyMessages.
func (mb *MailBox[T]) DeliverMyMessages(myRank int) {
	if !mb.MailFlag[myRank] {
		return
	}
	// Deliver in rank order so receivers see a deterministic sequence
	for targetRank := 0; targetRank < mb.NP; targetRank++ {
		msgBuffer, ok := mb.PostMsgQs[myRank][targetRank]
		if !ok || len(msgBuffer.Cells()) == 0 {
			continue
		}
		mb.MessageChans[targetRank] <- msgBuffer
	}
	mb.MailFlag[myRank] = false
}

func (mb *MailBox[T]) ReceiveMyMessages(myRank int) {
	for {
		select {
		case msgBuffer := <-mb.MessageChans[myRank]:
			for _, msg := range msgBuffer.Cells() {
				mb.ReceiveMsgQs[myRank].Add(msg)
			}
			msgBuffer.Reset() // Reset the originating buffer
		default:
			return
		}
	}
}

func (mb *MailBox[T]) ClearMyMessages(myRank int) {
	mb.ReceiveMsgQs[myRank].Reset()
}

type PartitionMap struct {
	MaxIndex       int // MaxIndex is partitioned into ParallelDegree partitions
	ParallelDegree int
	Partitions     [][2]int // Beginning and end index of partitions
}

func NewPartitionMap(ParallelDegree, maxIndex int) (pm *PartitionMap) {
	pm = &PartitionMap{
		MaxIndex:       maxIndex,
		ParallelDegree: ParallelDegree,
		Partitions:     make([][2]int, ParallelDegree),
	}
	for n := 0; n < ParallelDegree; n++ {
		pm.Partitions[n] = pm.Split1D(n)
	}
	return
}

// GetBucket returns the partition holding index k, or -1 when k is out of range.
func (pm *PartitionMap) GetBucket(k int) (bucketNum, min, max int) {
	_, bucketNum, min, max = pm.getBucketWithTryCount(k)
	return
}

func (pm *PartitionMap) getBucketWithTryCount(k int) (tryCount, bucketNum, min, max int) {
	if k < 0 || k >= pm.MaxIndex {
		return 0, -1, 0, 0
	}
	// Initial guess
	bucketNum = int(float64(pm.ParallelDegree*k) / float64(pm.MaxIndex))
	for !(pm.Partitions[bucketNum][0] <= k && pm.Partitions[bucketNum][1] > k) {
		if pm.Partitions[bucketNum][0] > k {
			bucketNum--
		} else {
			bucketNum++
		}
		if bucketNum == -1 || bucketNum == pm.ParallelDegree {
			return 0, -1, 0, 0
		}
		tryCount++
	}
	min, max = pm.Partitions[bucketNum][0], pm.Partitions[bucketNum][1]
	return
}

func (pm *PartitionMap) GetBucketRange(bucketNum int) (kMin, kMax int) {
	kMin, kMax = pm.Partitions[bucketNum][0], pm.Partitions[bucketNum][1]
	return
}

func (pm *PartitionMap) GetBucketDimension(bn int) (kMax int) {
	k1, k2 := pm.GetBucketRange(bn)
	return k2 - k1
}

func (pm *PartitionMap) Split1D(threadNum int) (bucket [2]int) {
	// Splits one dimension into ParallelDegree pieces, with a maximum imbalance of one item
	var (
		Npart            = pm.MaxIndex / (pm.ParallelDegree)
		startAdd, endAdd int
		remainder        int
	)
	remainder = pm.MaxIndex % pm.ParallelDegree
	if remainder != 0 { // spread the remainder over the first chunks evenly
		if threadNum+1 > remainder {
			startAdd = remainder
			endAdd = 0
		} else {
			startAdd = threadNum
			endAdd = 1
		}
	}
	bucket[0] = threadNum*Npart + startAdd
	bucket[1] = bucket[0] + Npart + endAdd
	return
}

var ErrAborted = errors.New("parallel run aborted by another rank")

// World is a set of in-process ranks, each driven by its own goroutine.
type World struct {
	NP         int
	mu         sync.Mutex
	cond       *sync.Cond
	arrived    int
	generation int
	aborted    bool
	slots      [][]float64
}

func NewWorld(NP int) (w *World) {
	if NP < 1 {
		panic(fmt.Errorf("world size must be positive, have %d", NP))
	}
	w = &World{
		NP:    NP,
		slots: make([][]float64, NP),
	}
	w.cond = sync.NewCond(&w.mu)
	return
}

// Run executes fn on every rank concurrently and returns the first error in
// rank order. A failing rank aborts the world so blocked peers return.
func (w *World) Run(fn func(c *Communicator) error) (err error) {
	var (
		wg   = sync.WaitGroup{}
		errs = make([]error, w.NP)
	)
	for np := 0; np < w.NP; np++ {
		wg.Add(1)
		go func(np int) {
			defer wg.Done()
			if errs[np] = fn(&Communicator{world: w, rank: np}); errs[np] != nil {
				w.abort()
			}
		}(np)
	}
	wg.Wait()
	for _, e := range errs {
		if e != nil && !errors.Is(e, ErrAborted) {
			return e
		}
	}
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return
}

func (w *World) abort() {
	w.mu.Lock()
	w.aborted = true
	w.cond.Broadcast()
	w.mu.Unlock()
}

func (w *World) barrier() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.aborted {
		return ErrAborted
	}
	gen := w.generation
	w.arrived++
	if w.arrived == w.NP {
		w.arrived = 0
		w.generation++
		w.cond.Broadcast()
		return nil
	}
	for gen == w.generation && !w.aborted {
		w.cond.Wait()
	}
	if gen == w.generation {
		return ErrAborted
	}
	return nil
}

// Communicator is one rank's handle on the World.
type Communicator struct {
	world *World
	rank  int
}

func (c *Communicator) Rank() int { return c.rank }
func (c *Communicator) Size() int { return c.world.NP }

func (c *Communicator) Barrier() error { return c.world.barrier() }

// AllReduceSum returns the element-wise sum of v over all ranks. Sums are
// accumulated in rank order, so every rank gets bitwise identical results.
func (c *Communicator) AllReduceSum(v []float64) (sum []float64, err error) {
	w := c.world
	w.mu.Lock()
	w.slots[c.rank] = append(w.slots[c.rank][:0], v...)
	w.mu.Unlock()
	if err = c.Barrier(); err != nil {
		return
	}
	sum = make([]float64, len(v))
	w.mu.Lock()
	for np := 0; np < w.NP; np++ {
		if len(w.slots[np]) != len(v) {
			w.mu.Unlock()
			err = fmt.Errorf("all-reduce length mismatch: rank %d has %d, rank %d has %d",
				c.rank, len(v), np, len(w.slots[np]))
			return
		}
		for i, val := range w.slots[np] {
			sum[i] += val
		}
	}
	w.mu.Unlock()
	err = c.Barrier()
	return
}
