package sim

// Partition is a set of samples with one-hot labels.
type Partition struct {
	Inputs [][]float64
	Labels [][]float64
}

// Len returns the number of samples.
func (p Partition) Len() int {
	return len(p.Inputs)
}

// ConcatPartitions joins partitions in order. Sample slices are shared, not copied.
func ConcatPartitions(parts ...Partition) Partition {
	var out Partition
	for _, p := range parts {
		out.Inputs = append(out.Inputs, p.Inputs...)
		out.Labels = append(out.Labels, p.Labels...)
	}
	return out
}

// Dataset is a client's private train/test split.
type Dataset struct {
	Train Partition
	Test  Partition
}

// DataPartitionProvider supplies per-client data. Implementations must be
// deterministic in (clientID, samples, iid, seed).
type DataPartitionProvider interface {
	// Dims returns the input feature count and the number of classes.
	Dims() (features, classes int)
	// Partition returns samples training examples plus a provider-defined
	// test split for one client.
	Partition(clientID, samples int, iid bool, seed int64) (Dataset, error)
}
