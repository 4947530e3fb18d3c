package main

import (
	"fmt"

	"github.com/orbitgc/orbitgc/internal/objfixture"
)

// scenario builds one seeded object graph and reports how many objects were
// created, so a driver can sanity-check Collect's reachable/unreachable
// counts against what the scenario is known to produce.
type scenario struct {
	name        string
	description string
	build       func() (*objfixture.Universe, int)
}

var scenarios = []scenario{
	{
		name:        "linear-chain",
		description: "a root referencing a chain of N live objects",
		build:       buildLinearChain,
	},
	{
		name:        "dead-chain",
		description: "a chain of N objects with no root reference, all garbage",
		build:       buildDeadChain,
	},
	{
		name:        "clustered-island",
		description: "a rooted cluster whose members are only reachable through the root",
		build:       buildClusteredIsland,
	},
	{
		name:        "cluster-goes-garbage",
		description: "an unrooted cluster: root and every member must collect together",
		build:       buildClusterGoesGarbage,
	},
	{
		name:        "incremental-purge",
		description: "a dead chain with slow-to-finish destructors, for exercising IncrementalPurgeGarbage across ticks",
		build:       buildIncrementalPurge,
	},
}

func findScenario(name string) (scenario, bool) {
	for _, s := range scenarios {
		if s.name == name {
			return s, true
		}
	}
	return scenario{}, false
}

func buildLinearChain() (*objfixture.Universe, int) {
	u := objfixture.New()
	const n = 20
	root := u.NewObject()
	u.AddRoot(root)
	prev := root
	for i := 0; i < n; i++ {
		obj := u.NewObject()
		u.Link(prev, obj)
		prev = obj
	}
	return u, n + 1
}

func buildDeadChain() (*objfixture.Universe, int) {
	u := objfixture.New()
	const n = 20
	var prev *objfixture.Object
	for i := 0; i < n; i++ {
		obj := u.NewObject()
		if prev != nil {
			u.Link(prev, obj)
		}
		prev = obj
	}
	return u, n
}

func buildClusteredIsland() (*objfixture.Universe, int) {
	u := objfixture.New()
	root := u.NewObject()
	u.AddRoot(root)

	clusterRoot := u.NewObject()
	u.Link(root, clusterRoot)
	members := make([]*objfixture.Object, 0, 5)
	for i := 0; i < 5; i++ {
		members = append(members, u.NewObject())
	}
	u.MakeCluster(clusterRoot, members...)
	return u, 2 + len(members)
}

func buildClusterGoesGarbage() (*objfixture.Universe, int) {
	u := objfixture.New()
	root := u.NewObject()
	u.AddRoot(root)

	clusterRoot := u.NewObject()
	members := make([]*objfixture.Object, 0, 5)
	for i := 0; i < 5; i++ {
		members = append(members, u.NewObject())
	}
	u.MakeCluster(clusterRoot, members...)
	return u, 1 + 1 + len(members)
}

func buildIncrementalPurge() (*objfixture.Universe, int) {
	u := objfixture.New()
	const n = 12
	var prev *objfixture.Object
	for i := 0; i < n; i++ {
		obj := u.NewObject()
		obj.SetReadyAfter(3)
		if prev != nil {
			u.Link(prev, obj)
		}
		prev = obj
	}
	return u, n
}

func describeScenarios() string {
	out := ""
	for _, s := range scenarios {
		out += fmt.Sprintf("  %-22s %s\n", s.name, s.description)
	}
	return out
}
