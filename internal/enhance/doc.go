// Package enhance defines the contract with the audio enhancement
// collaborator and the upload checks applied before a job is created.
//
// The enhancement algorithm itself is opaque. An Enhancer turns an input
// file into an output file for a set of domain.EnhanceParams and reports
// coarse progress through the load, resample, transform and save stages.
package enhance
