package template

var builtins = []Template{
	{
		Key:     "payment_confirmation",
		Subject: "Payment received{{#if reference}} ({{reference}}){{/if}}",
		HTML: `<p>Hi {{name}},</p>
<p>We received your payment of <strong>{{amount}}</strong>.</p>
{{#if reference}}<p>Reference: {{reference}}</p>{{/if}}
<p>Thank you.</p>`,
		Text: `Hi {{name}},

We received your payment of {{amount}}.
{{#if reference}}Reference: {{reference}}
{{/if}}
Thank you.`,
	},
	{
		Key:     "password_reset",
		Subject: "Reset your password",
		HTML: `<p>Hi {{name}},</p>
<p><a href="{{reset_url}}">Reset your password</a>. The link expires in {{expires_in}}.</p>
<p>If you did not ask for this, ignore this email.</p>`,
		Text: `Hi {{name}},

Reset your password: {{reset_url}}
The link expires in {{expires_in}}.

If you did not ask for this, ignore this email.`,
	},
	{
		Key:     "order_confirmation",
		Subject: "Order {{order_id}} confirmed",
		HTML: `<p>Hi {{name}},</p>
<p>Your order <strong>{{order_id}}</strong> totalling {{total}} is confirmed.</p>
{{#if shipping_address}}<p>It will ship to {{shipping_address}}.</p>{{/if}}`,
		Text: `Hi {{name}},

Your order {{order_id}} totalling {{total}} is confirmed.
{{#if shipping_address}}It will ship to {{shipping_address}}.
{{/if}}`,
	},
}
