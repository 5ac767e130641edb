// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

// Package oauth implements the Google authorization code flow used for
// federated signin: the provider client, the signed state and completion
// tickets that survive the browser round trip, and the post-login redirect
// allow-list.
package oauth
