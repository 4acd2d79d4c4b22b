package main

import (
	"strings"
	"testing"
)

func TestRequiredSecretNames(t *testing.T) {
	cases := map[string]struct {
		env  map[string]string
		want string
	}{
		"local paymongo only": {
			env:  map[string]string{},
			want: "Gateway.PayMongoSecretKey",
		},
		"production paymongo": {
			env:  map[string]string{"API_SECURITY_ENVIRONMENT": "prod"},
			want: "Gateway.PayMongoSecretKey,Gateway.WebhookSecret",
		},
		"local stripe": {
			env:  map[string]string{"API_GATEWAY_STRIPE_API_KEY": "sk_test"},
			want: "Gateway.PayMongoSecretKey,Gateway.StripeAPIKey",
		},
		"production stripe": {
			env:  map[string]string{"API_SECURITY_ENVIRONMENT": "prod", "API_GATEWAY_STRIPE_API_KEY": "sk_live"},
			want: "Gateway.PayMongoSecretKey,Gateway.WebhookSecret,Gateway.StripeAPIKey,Gateway.StripeWebhookSecret",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := strings.Join(requiredSecretNames(tc.env), ","); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}
