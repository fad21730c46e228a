package flowcache

// LabelLookup is the external collaborator behind §6's num_subnets
// configuration flag: given an address, it returns the label of the
// subnet containing it, and whether one was found. The core never
// implements subnet matching itself; it only calls this contract during
// emission and attaches the result to sa_labels/da_labels.
type LabelLookup interface {
	Lookup(addr uint32) (label string, ok bool)
}

// Anonymizer is the external collaborator behind address anonymization
// (§6 "Addresses flagged for anonymization are substituted with a hex
// pseudonym"). Substitute returns the pseudonym to print in place of addr,
// and whether addr is subject to anonymization at all.
type Anonymizer interface {
	Substitute(addr uint32) (pseudonym string, anonymize bool)
}
