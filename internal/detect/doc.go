// Package detect analyzes captured pane text from the two wrapped
// coding agents. It recognizes pending permission prompts and classifies
// error renderings by severity.
//
// Both analyses are pure text heuristics against third-party terminal
// UIs with no structured protocol. The patterns are versioned here in
// one place and unit-tested against literal captured fixtures; they are
// expected to need maintenance when the wrapped products change their
// rendering. The recognizer is deliberately biased toward false
// negatives: failing to see a prompt leaves it for the human, while a
// false positive would inject a keypress into an unrelated UI.
package detect
