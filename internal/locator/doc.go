// Package locator owns the per-session store-finding state.
//
// This package is internal to storefinder. It holds the fetched store list,
// the user's location and the current selection, and implements the
// nearest-store search over the store list.
//
// The main components are:
//
//   - [Store]: a retail location as returned by the store list API
//   - [Nearest]: linear nearest-store search using [geo.Distance]
//   - [Locator]: session state reacting to geolocation results and marker clicks
//   - [StoreSource]: where the store list comes from (remote API, cache)
//   - [DistanceEstimator]: driving-distance lookup between user and store
package locator
