// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

//go:build integration

package api_test

import (
	"net/http"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

var _ = Describe("Session lifecycle", func() {
	Describe("signup", func() {
		It("creates a pending student with one active session", func() {
			resp := call(http.MethodPost, "/auth/signup", signupBody("ada"), "", nil)

			Expect(resp.status).To(Equal(http.StatusCreated))
			Expect(resp.accessToken()).NotTo(BeEmpty())
			Expect(resp.refreshCookie()).NotTo(BeNil())
			Expect(resp.refreshCookie().HttpOnly).To(BeTrue())
			user := resp.body["user"].(map[string]any)
			Expect(user["role"]).To(Equal("STUDENT"))
			Expect(user["approvalStatus"]).To(Equal("PENDING"))
			Expect(user).NotTo(HaveKey("passwordHash"))
			Expect(activeSessions("ada")).To(BeEquivalentTo(1))
		})

		It("rejects a case-insensitive duplicate username", func() {
			call(http.MethodPost, "/auth/signup", signupBody("grace"), "", nil)

			body := signupBody("GRACE")
			body["email"] = "other-grace@uni.test"
			resp := call(http.MethodPost, "/auth/signup", body, "", nil)

			Expect(resp.status).To(Equal(http.StatusBadRequest))
			Expect(resp.body["field"]).To(Equal("username"))
		})
	})

	Describe("refresh", func() {
		It("rotates the token and rejects replay of the old one", func() {
			signup := call(http.MethodPost, "/auth/signup", signupBody("linus"), "", nil)
			original := signup.refreshCookie()

			rotated := call(http.MethodPost, "/auth/refresh", nil, "", original)
			Expect(rotated.status).To(Equal(http.StatusOK))
			Expect(rotated.refreshCookie().Value).NotTo(Equal(original.Value))
			Expect(activeSessions("linus")).To(BeEquivalentTo(1))

			replay := call(http.MethodPost, "/auth/refresh", nil, "", original)
			Expect(replay.status).To(Equal(http.StatusUnauthorized))

			var reason string
			Expect(env.pool.QueryRow(env.ctx, `
				SELECT revoked_reason FROM refresh_tokens
				WHERE user_id = $1 AND revoked ORDER BY created_at LIMIT 1
			`, userID("linus")).Scan(&reason)).To(Succeed())
			Expect(reason).To(Equal("rotated"))
		})

		It("rejects and revokes an expired token", func() {
			signup := call(http.MethodPost, "/auth/signup", signupBody("barbara"), "", nil)
			_, err := env.pool.Exec(env.ctx,
				`UPDATE refresh_tokens SET expires_at = NOW() - INTERVAL '1 minute' WHERE user_id = $1`,
				userID("barbara"))
			Expect(err).NotTo(HaveOccurred())

			resp := call(http.MethodPost, "/auth/refresh", nil, "", signup.refreshCookie())
			Expect(resp.status).To(Equal(http.StatusUnauthorized))

			Eventually(func() string {
				var reason *string
				_ = env.pool.QueryRow(env.ctx,
					`SELECT revoked_reason FROM refresh_tokens WHERE user_id = $1`,
					userID("barbara")).Scan(&reason)
				if reason == nil {
					return ""
				}
				return *reason
			}).Should(Equal("expired"))
		})
	})

	Describe("signin", func() {
		It("revokes the previous session", func() {
			first := call(http.MethodPost, "/auth/signup", signupBody("ken"), "", nil)

			second := call(http.MethodPost, "/auth/signin",
				map[string]string{"identifier": "ken@uni.test", "password": "Str0ng!pass"}, "", nil)
			Expect(second.status).To(Equal(http.StatusOK))
			Expect(activeSessions("ken")).To(BeEquivalentTo(1))

			stale := call(http.MethodPost, "/auth/refresh", nil, "", first.refreshCookie())
			Expect(stale.status).To(Equal(http.StatusUnauthorized))
		})

		It("leaves exactly one active session after concurrent signins", func() {
			call(http.MethodPost, "/auth/signup", signupBody("dennis"), "", nil)

			var wg sync.WaitGroup
			for range 5 {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					resp := call(http.MethodPost, "/auth/signin",
						map[string]string{"identifier": "dennis", "password": "Str0ng!pass"}, "", nil)
					Expect(resp.status).To(Equal(http.StatusOK))
				}()
			}
			wg.Wait()

			Expect(activeSessions("dennis")).To(BeEquivalentTo(1))
		})

		It("gives the same answer for a wrong password and an unknown user", func() {
			call(http.MethodPost, "/auth/signup", signupBody("margaret"), "", nil)

			wrong := call(http.MethodPost, "/auth/signin",
				map[string]string{"identifier": "margaret", "password": "nope-nope"}, "", nil)
			unknown := call(http.MethodPost, "/auth/signin",
				map[string]string{"identifier": "nobody", "password": "Str0ng!pass"}, "", nil)

			Expect(wrong.status).To(Equal(http.StatusUnauthorized))
			Expect(unknown.status).To(Equal(http.StatusUnauthorized))
			Expect(wrong.body).To(Equal(unknown.body))
		})
	})

	Describe("signout", func() {
		It("revokes every session of the user", func() {
			signup := call(http.MethodPost, "/auth/signup", signupBody("edsger"), "", nil)

			resp := call(http.MethodPost, "/auth/signout", nil, signup.accessToken(), signup.refreshCookie())
			Expect(resp.status).To(Equal(http.StatusOK))
			Expect(resp.refreshCookie().MaxAge).To(BeNumerically("<", 0))
			Expect(activeSessions("edsger")).To(BeZero())

			after := call(http.MethodPost, "/auth/refresh", nil, "", signup.refreshCookie())
			Expect(after.status).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("guards", func() {
		It("uses the role stored in the database", func() {
			signup := call(http.MethodPost, "/auth/signup", signupBody("alan"), "", nil)
			token := signup.accessToken()

			Expect(call(http.MethodGet, "/admin/ping", nil, token, nil).status).To(Equal(http.StatusForbidden))

			_, err := env.pool.Exec(env.ctx, `UPDATE users SET role = 'ADMIN' WHERE id = $1`, userID("alan"))
			Expect(err).NotTo(HaveOccurred())

			Expect(call(http.MethodGet, "/admin/ping", nil, token, nil).status).To(Equal(http.StatusOK))
		})

		It("rejects a deactivated account holding a valid token", func() {
			signup := call(http.MethodPost, "/auth/signup", signupBody("tony"), "", nil)
			Expect(call(http.MethodGet, "/auth/me", nil, signup.accessToken(), nil).status).To(Equal(http.StatusOK))

			_, err := env.pool.Exec(env.ctx, `UPDATE users SET is_active = FALSE WHERE id = $1`, userID("tony"))
			Expect(err).NotTo(HaveOccurred())

			Expect(call(http.MethodGet, "/auth/me", nil, signup.accessToken(), nil).status).To(Equal(http.StatusUnauthorized))
			Expect(call(http.MethodPost, "/auth/refresh", nil, "", signup.refreshCookie()).status).To(Equal(http.StatusUnauthorized))
		})
	})
})
